package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/domain"
)

// MemoryStore keeps accounts, MFA records, tokens and audit events in
// process. It backs STORAGE=memory and the tests. A single mutex makes every
// mutator atomic, matching the conditional updates of the SQL repositories.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	secrets  map[uuid.UUID]*domain.MFASecret // by account id
	tokens   map[string]*domain.VerificationToken
	events   []audit.Event
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*domain.Account),
		secrets:  make(map[uuid.UUID]*domain.MFASecret),
		tokens:   make(map[string]*domain.VerificationToken),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Accounts

func (m *MemoryStore) Create(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.accounts {
		if strings.EqualFold(existing.Username, a.Username) || strings.EqualFold(existing.Email, a.Email) {
			return domain.ErrDuplicateIdentity
		}
	}
	m.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (m *MemoryStore) FindByIdentity(_ context.Context, identifier string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, identifier) || strings.EqualFold(a.Username, identifier) {
			return cloneAccount(a), nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (m *MemoryStore) ExistsByIdentity(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if strings.EqualFold(a.Username, username) || strings.EqualFold(a.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) RecordFailedAttempt(_ context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (*domain.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	now := m.now()
	if a.LockedUntil != nil && !now.Before(*a.LockedUntil) {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
	}
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= maxAttempts {
		until := now.Add(lockFor)
		a.LockedUntil = &until
	}
	a.UpdatedAt = now
	return &domain.LockoutState{FailedLoginAttempts: a.FailedLoginAttempts, LockedUntil: copyTime(a.LockedUntil)}, nil
}

func (m *MemoryStore) ClearFailures(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(a *domain.Account, _ time.Time) {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
	})
}

func (m *MemoryStore) RecordMFAFailure(_ context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (*domain.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	now := m.now()
	a.MFAFailedAttempts++
	if a.MFAFailedAttempts >= maxAttempts {
		until := now.Add(lockFor)
		a.LockedUntil = &until
		a.MFAFailedAttempts = 0
	}
	a.UpdatedAt = now
	return &domain.LockoutState{
		FailedLoginAttempts: a.FailedLoginAttempts,
		MFAFailedAttempts:   a.MFAFailedAttempts,
		LockedUntil:         copyTime(a.LockedUntil),
	}, nil
}

func (m *MemoryStore) RecordSuccess(_ context.Context, id uuid.UUID, ip string) error {
	return m.update(id, func(a *domain.Account, now time.Time) {
		a.FailedLoginAttempts = 0
		a.MFAFailedAttempts = 0
		a.LockedUntil = nil
		a.LastLoginAt = &now
		a.LastLoginIP = &ip
	})
}

func (m *MemoryStore) LockUntil(_ context.Context, id uuid.UUID, until time.Time) error {
	return m.update(id, func(a *domain.Account, _ time.Time) {
		a.LockedUntil = &until
		a.FailedLoginAttempts++
	})
}

func (m *MemoryStore) UpdatePassword(_ context.Context, id uuid.UUID, hash string, history []string) error {
	return m.update(id, func(a *domain.Account, now time.Time) {
		a.PasswordHash = hash
		a.PasswordHistory = append([]string(nil), history...)
		a.PasswordChangedAt = now
	})
}

func (m *MemoryStore) SetMFA(_ context.Context, id uuid.UUID, enabled bool, method domain.MFAMethod) error {
	if enabled && method == domain.MFAMethodNone {
		return domain.ErrInvalidMFAState
	}
	return m.update(id, func(a *domain.Account, _ time.Time) {
		a.MFAEnabled = enabled
		a.MFAMethod = method
	})
}

func (m *MemoryStore) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(a *domain.Account, _ time.Time) {
		a.EmailVerified = true
	})
}

func (m *MemoryStore) SetEmailOTP(_ context.Context, id uuid.UUID, codeHash string, expiresAt time.Time) error {
	return m.update(id, func(a *domain.Account, _ time.Time) {
		a.OTPCodeHash = &codeHash
		a.OTPExpiresAt = &expiresAt
		a.OTPAttempts = 0
	})
}

func (m *MemoryStore) RecordOTPFailure(_ context.Context, id uuid.UUID, maxAttempts int) (int, error) {
	var attempts int
	err := m.update(id, func(a *domain.Account, _ time.Time) {
		a.OTPAttempts++
		if a.OTPAttempts >= maxAttempts {
			a.OTPCodeHash = nil
			a.OTPExpiresAt = nil
		}
		attempts = a.OTPAttempts
	})
	return attempts, err
}

func (m *MemoryStore) ClearEmailOTP(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(a *domain.Account, _ time.Time) {
		a.OTPCodeHash = nil
		a.OTPExpiresAt = nil
		a.OTPAttempts = 0
	})
}

func (m *MemoryStore) update(id uuid.UUID, fn func(a *domain.Account, now time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	now := m.now()
	fn(a, now)
	a.UpdatedAt = now
	return nil
}

// MFA

func (m *MemoryStore) ReplaceSecret(_ context.Context, s *domain.MFASecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[s.AccountID] = cloneSecret(s)
	return nil
}

func (m *MemoryStore) GetSecret(_ context.Context, accountID uuid.UUID) (*domain.MFASecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.secrets[accountID]
	if !ok {
		return nil, domain.ErrMFASetupNotStarted
	}
	return cloneSecret(s), nil
}

func (m *MemoryStore) TouchSecret(_ context.Context, secretID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.secretByID(secretID); s != nil {
		now := m.now()
		s.LastUsedAt = &now
	}
	return nil
}

func (m *MemoryStore) ConsumeBackupCode(_ context.Context, codeID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.secrets {
		for i := range s.BackupCodes {
			c := &s.BackupCodes[i]
			if c.ID != codeID {
				continue
			}
			if c.UsedAt != nil {
				return false, nil
			}
			now := m.now()
			c.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ReplaceBackupCodes(_ context.Context, secretID uuid.UUID, codes []domain.BackupCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.secretByID(secretID)
	if s == nil {
		return domain.ErrMFASetupNotStarted
	}
	s.BackupCodes = append([]domain.BackupCode(nil), codes...)
	return nil
}

func (m *MemoryStore) DisableMFA(_ context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	delete(m.secrets, accountID)
	a.MFAEnabled = false
	a.MFAMethod = domain.MFAMethodNone
	a.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) secretByID(id uuid.UUID) *domain.MFASecret {
	for _, s := range m.secrets {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Verification tokens. Create, Get and Consume satisfy auth.TokenStore.

func (m *MemoryStore) CreateToken(_ context.Context, t *domain.VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for h, existing := range m.tokens {
		if existing.AccountID == t.AccountID && existing.Kind == t.Kind {
			delete(m.tokens, h)
		}
	}
	c := *t
	m.tokens[t.TokenHash] = &c
	return nil
}

func (m *MemoryStore) GetToken(_ context.Context, tokenHash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[tokenHash]
	if !ok || t.Kind != kind {
		return nil, domain.ErrVerificationTokenNotFound
	}
	if t.Expired(m.now()) {
		delete(m.tokens, tokenHash)
		return nil, domain.ErrVerificationTokenExpired
	}
	c := *t
	return &c, nil
}

func (m *MemoryStore) ConsumeToken(_ context.Context, tokenHash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[tokenHash]
	if !ok || t.Kind != kind {
		return nil, domain.ErrVerificationTokenNotFound
	}
	delete(m.tokens, tokenHash)
	if t.Expired(m.now()) {
		return nil, domain.ErrVerificationTokenExpired
	}
	return t, nil
}

// Tokens adapts the store to the auth.TokenStore method names.
func (m *MemoryStore) Tokens() *MemoryTokens {
	return &MemoryTokens{m: m}
}

// MemoryTokens exposes MemoryStore's token methods under the TokenStore names.
type MemoryTokens struct {
	m *MemoryStore
}

func (t *MemoryTokens) Create(ctx context.Context, tok *domain.VerificationToken) error {
	return t.m.CreateToken(ctx, tok)
}

func (t *MemoryTokens) Get(ctx context.Context, hash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error) {
	return t.m.GetToken(ctx, hash, kind)
}

func (t *MemoryTokens) Consume(ctx context.Context, hash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error) {
	return t.m.ConsumeToken(ctx, hash, kind)
}

// DeleteExpired removes every expired token and returns how many went.
func (t *MemoryTokens) DeleteExpired(_ context.Context) (int64, error) {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for h, tok := range m.tokens {
		if tok.Expired(now) {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

// Audit. Insert, Query, Stats and DeleteBefore satisfy audit.Store.

func (m *MemoryStore) Insert(_ context.Context, e *audit.Event) error {
	m.mu.Lock()
	m.events = append(m.events, *e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f audit.Filter) ([]audit.Event, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []audit.Event
	search := strings.ToLower(f.Search)
	for _, e := range m.events {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.ActorName), search) &&
			!strings.Contains(strings.ToLower(e.Action), search) {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) Stats(_ context.Context, since time.Time, top int) (*audit.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &audit.Stats{}
	counts := make(map[string]int)
	for _, e := range m.events {
		if e.CreatedAt.Before(since) {
			continue
		}
		stats.TotalToday++
		switch e.Status {
		case audit.StatusSuccess:
			stats.SuccessToday++
		case audit.StatusFailure:
			stats.FailuresToday++
		}
		counts[e.Action]++
	}
	for action, n := range counts {
		stats.TopActions = append(stats.TopActions, audit.ActionCount{Action: action, Count: n})
	}
	sort.Slice(stats.TopActions, func(i, j int) bool {
		a, b := stats.TopActions[i], stats.TopActions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Action < b.Action
	})
	if len(stats.TopActions) > top {
		stats.TopActions = stats.TopActions[:top]
	}
	return stats, nil
}

func (m *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	var removed int64
	for _, e := range m.events {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return removed, nil
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	c.PasswordHistory = append([]string(nil), a.PasswordHistory...)
	c.LockedUntil = copyTime(a.LockedUntil)
	c.OTPExpiresAt = copyTime(a.OTPExpiresAt)
	c.LastLoginAt = copyTime(a.LastLoginAt)
	if a.OTPCodeHash != nil {
		h := *a.OTPCodeHash
		c.OTPCodeHash = &h
	}
	if a.LastLoginIP != nil {
		ip := *a.LastLoginIP
		c.LastLoginIP = &ip
	}
	return &c
}

func cloneSecret(s *domain.MFASecret) *domain.MFASecret {
	c := *s
	c.BackupCodes = make([]domain.BackupCode, len(s.BackupCodes))
	for i, bc := range s.BackupCodes {
		bc.UsedAt = copyTime(bc.UsedAt)
		c.BackupCodes[i] = bc
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

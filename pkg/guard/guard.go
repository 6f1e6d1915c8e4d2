package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/store"
)

const (
	DefaultAuthenticatedThreshold = 3
	DefaultAnonymousThreshold     = 5
	DefaultBlockDuration          = 20 * time.Minute
	DefaultViolationWindow        = 24 * time.Hour
)

// Status is the securityStatus reported to the client.
type Status string

const (
	StatusWarning Status = "WARNING"
	StatusBlocked Status = "BLOCKED"
)

// Config tunes the escalation ladder.
type Config struct {
	AuthenticatedThreshold int
	AnonymousThreshold     int
	BlockDuration          time.Duration
	// ViolationWindow bounds how long a warning count is remembered.
	ViolationWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.AuthenticatedThreshold <= 0 {
		c.AuthenticatedThreshold = DefaultAuthenticatedThreshold
	}
	if c.AnonymousThreshold <= 0 {
		c.AnonymousThreshold = DefaultAnonymousThreshold
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = DefaultBlockDuration
	}
	if c.ViolationWindow <= 0 {
		c.ViolationWindow = DefaultViolationWindow
	}
}

// AccountLocker force-locks an account.
type AccountLocker interface {
	LockFor(ctx context.Context, accountID uuid.UUID, d time.Duration) (time.Time, error)
}

// TokenRevoker denylists a session token.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// Decision is the outcome of one recorded violation.
type Decision struct {
	Status  Status
	Count   int
	Limit   int
	Until   time.Time
	Message string
}

// Blocked reports whether the violation tripped the block.
func (d *Decision) Blocked() bool {
	return d.Status == StatusBlocked
}

// Guard keeps violation counts in a store.Counter so they survive across
// instances when the counter is Redis backed.
type Guard struct {
	cfg      Config
	counters store.Counter
	locker   AccountLocker
	revoker  TokenRevoker
}

func New(cfg Config, counters store.Counter, locker AccountLocker, revoker TokenRevoker) *Guard {
	cfg.applyDefaults()
	return &Guard{cfg: cfg, counters: counters, locker: locker, revoker: revoker}
}

func (g *Guard) Config() Config {
	return g.cfg
}

// AccountViolation counts a violation by a signed-in account. At the
// threshold the account is locked, the presented token revoked and the
// counter cleared.
func (g *Guard) AccountViolation(ctx context.Context, accountID uuid.UUID, token string) (*Decision, error) {
	key := "abuse:user:" + accountID.String()
	n, err := g.counters.Increment(ctx, key, g.cfg.ViolationWindow)
	if err != nil {
		return nil, err
	}
	limit := g.cfg.AuthenticatedThreshold
	if int(n) < limit {
		return &Decision{
			Status:  StatusWarning,
			Count:   int(n),
			Limit:   limit,
			Message: fmt.Sprintf("SECURITY WARNING: Malicious pattern detected (%d/%d). Continued attempts will lead to an immediate account lock.", n, limit),
		}, nil
	}

	until, err := g.locker.LockFor(ctx, accountID, g.cfg.BlockDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	if token != "" {
		if err := g.revoker.Revoke(ctx, token); err != nil {
			return nil, err
		}
	}
	if err := g.counters.Clear(ctx, key); err != nil {
		return nil, err
	}
	return &Decision{
		Status:  StatusBlocked,
		Count:   int(n),
		Limit:   limit,
		Until:   until,
		Message: fmt.Sprintf("ACCOUNT BLOCKED: Your account has been locked for %d minutes due to persistent malicious activity.", minutes(g.cfg.BlockDuration)),
	}, nil
}

// AnonymousViolation counts a violation by an anonymous client marker. At
// the threshold the marker is blocked for BlockDuration.
func (g *Guard) AnonymousViolation(ctx context.Context, marker string) (*Decision, error) {
	key := "abuse:anon:" + marker
	n, err := g.counters.Increment(ctx, key, g.cfg.ViolationWindow)
	if err != nil {
		return nil, err
	}
	limit := g.cfg.AnonymousThreshold
	if int(n) < limit {
		return &Decision{
			Status:  StatusWarning,
			Count:   int(n),
			Limit:   limit,
			Message: fmt.Sprintf("SECURITY WARNING: Malicious pattern detected (%d/%d). Guest attempts are strictly monitored.", n, limit),
		}, nil
	}

	if _, err := g.counters.Increment(ctx, blockKey(marker), g.cfg.BlockDuration); err != nil {
		return nil, err
	}
	if err := g.counters.Clear(ctx, key); err != nil {
		return nil, err
	}
	return &Decision{
		Status:  StatusBlocked,
		Count:   int(n),
		Limit:   limit,
		Message: g.AnonymousBlockedMessage(),
	}, nil
}

// MarkerBlocked reports whether an anonymous marker is serving a block.
func (g *Guard) MarkerBlocked(ctx context.Context, marker string) (bool, error) {
	n, err := g.counters.Get(ctx, blockKey(marker))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AnonymousBlockedMessage is returned to a blocked marker on every request.
func (g *Guard) AnonymousBlockedMessage() string {
	return fmt.Sprintf("ACCESS BLOCKED: Too many malicious requests. Try again in %d minutes.", minutes(g.cfg.BlockDuration))
}

// LockedMessage is returned to a locked account before scanning.
func LockedMessage(remainingMinutes int) string {
	return fmt.Sprintf("ACCOUNT LOCKED: Your account has been temporarily locked for %d more minutes due to repeated malicious payload attempts.", remainingMinutes)
}

func blockKey(marker string) string {
	return "abuse:block:anon:" + marker
}

func minutes(d time.Duration) int {
	return int((d + time.Minute - 1) / time.Minute)
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tendant/autovault-auth/pkg/audit"
)

// AuditRepository is the Postgres audit.Store.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, e *audit.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}
	if e.Details == nil {
		details = []byte("{}")
	}
	query := `
		INSERT INTO audit_logs (id, action, actor_id, actor_name, details, ip, user_agent, method, endpoint, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.Action, e.ActorID, e.ActorName, details,
		e.IP, e.UserAgent, e.Method, e.Endpoint, e.Status, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]audit.Event, int, error) {
	where, args := auditWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := `
		SELECT id, action, actor_id, actor_name, details, ip, user_agent, method, endpoint, status, created_at
		FROM audit_logs` + where + fmt.Sprintf(`
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		var details []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.ActorName, &details,
			&e.IP, &e.UserAgent, &e.Method, &e.Endpoint, &e.Status, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func (r *AuditRepository) Stats(ctx context.Context, since time.Time, top int) (*audit.Stats, error) {
	stats := &audit.Stats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'failure')
		FROM audit_logs
		WHERE created_at >= $1
	`, since).Scan(&stats.TotalToday, &stats.SuccessToday, &stats.FailuresToday)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit events: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT action, COUNT(*) AS n
		FROM audit_logs
		WHERE created_at >= $1
		GROUP BY action
		ORDER BY n DESC, action
		LIMIT $2
	`, since, top)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ac audit.ActionCount
		if err := rows.Scan(&ac.Action, &ac.Count); err != nil {
			return nil, err
		}
		stats.TopActions = append(stats.TopActions, ac)
	}
	return stats, rows.Err()
}

func (r *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}

func auditWhere(f audit.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(actor_name ILIKE $%d OR action ILIKE $%d)", n, n))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

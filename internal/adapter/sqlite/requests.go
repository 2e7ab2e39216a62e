package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wargadesa/desaflow/internal/domain"
)

// Compile-time checks against the domain ports.
var (
	_ domain.RequestRepository = (*RequestRepository)(nil)
	_ domain.RequestTx         = (*requestTx)(nil)
)

// RequestRepository implements domain.RequestRepository using SQLite.
type RequestRepository struct {
	db *sql.DB
}

const requestColumns = `id, kind, subject_id, requester_id, status, note, decided_by,
	requested_at, decided_at, effective_at, due_at, closed_at, updated_at`

func (r *RequestRepository) GetByID(ctx context.Context, id string) (domain.Request, error) {
	return getRequest(ctx, r.db, id)
}

func (r *RequestRepository) SubjectHeld(ctx context.Context, subjectID, excludeID string, held domain.Status) (bool, error) {
	return subjectHeld(ctx, r.db, subjectID, excludeID, held)
}

func (r *RequestRepository) CountBySubject(ctx context.Context, kind domain.Kind, subjectID string) (int, error) {
	return countBySubject(ctx, r.db, kind, subjectID)
}

func (r *RequestRepository) List(ctx context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	var (
		conds []string
		args  []any
	)

	if filter.Kind != nil {
		conds = append(conds, `kind = ?`)
		args = append(args, string(*filter.Kind))
	}
	if filter.Status != nil {
		conds = append(conds, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if filter.RequesterID != "" {
		conds = append(conds, `requester_id = ?`)
		args = append(args, filter.RequesterID)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}

	query += ` ORDER BY requested_at DESC, id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var out []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}

	return out, rows.Err()
}

func (r *RequestRepository) History(ctx context.Context, requestID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, request_id, kind, from_status, to_status, actor_id, actor_role, note, occurred_at
		 FROM request_audit WHERE request_id = ? ORDER BY id`, requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			kind       string
			from, to   string
			role       string
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &kind, &from, &to, &e.ActorID, &role, &e.Note, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Kind = domain.Kind(kind)
		e.FromStatus = domain.Status(from)
		e.ToStatus = domain.Status(to)
		e.ActorRole = domain.Role(role)
		e.OccurredAt, _ = time.Parse(timeFormat, occurredAt)
		out = append(out, e)
	}

	return out, rows.Err()
}

// Transact runs fn inside one database transaction. Combined with the
// single-connection pool this is a serialized read-modify-write scope:
// two concurrent approvals of the same asset cannot interleave between
// the availability check and the status write.
func (r *RequestRepository) Transact(ctx context.Context, fn func(tx domain.RequestTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&requestTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// requestTx implements domain.RequestTx over an open *sql.Tx.
type requestTx struct {
	tx *sql.Tx
}

func (t *requestTx) GetByID(ctx context.Context, id string) (domain.Request, error) {
	return getRequest(ctx, t.tx, id)
}

func (t *requestTx) SubjectHeld(ctx context.Context, subjectID, excludeID string, held domain.Status) (bool, error) {
	return subjectHeld(ctx, t.tx, subjectID, excludeID, held)
}

func (t *requestTx) CountBySubject(ctx context.Context, kind domain.Kind, subjectID string) (int, error) {
	return countBySubject(ctx, t.tx, kind, subjectID)
}

func (t *requestTx) Create(ctx context.Context, req domain.Request) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO requests (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, string(req.Kind), req.SubjectID, req.RequesterID, string(req.Status),
		req.Note, req.DecidedBy,
		req.RequestedAt.Format(timeFormat),
		optTime(req.DecidedAt), optTime(req.EffectiveAt), optTime(req.DueAt), optTime(req.ClosedAt),
		req.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}
	return nil
}

func (t *requestTx) Update(ctx context.Context, req domain.Request) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE requests SET status = ?, note = ?, decided_by = ?, decided_at = ?,
		 effective_at = ?, due_at = ?, closed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(req.Status), req.Note, req.DecidedBy,
		optTime(req.DecidedAt), optTime(req.EffectiveAt), optTime(req.DueAt), optTime(req.ClosedAt),
		req.UpdatedAt.Format(timeFormat), req.ID,
	)
	if err != nil {
		return fmt.Errorf("updating request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

func (t *requestTx) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO request_audit (request_id, kind, from_status, to_status, actor_id, actor_role, note, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, string(e.Kind), string(e.FromStatus), string(e.ToStatus),
		e.ActorID, string(e.ActorRole), e.Note, e.OccurredAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// --- shared query code ---

func getRequest(ctx context.Context, q querier, id string) (domain.Request, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id,
	)

	req, err := scanRequest(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Request{}, domain.ErrRequestNotFound
		}
		return domain.Request{}, err
	}
	return req, nil
}

func subjectHeld(ctx context.Context, q querier, subjectID, excludeID string, held domain.Status) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM requests WHERE subject_id = ? AND id <> ? AND status = ?`,
		subjectID, excludeID, string(held),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting holders: %w", err)
	}
	return n > 0, nil
}

func countBySubject(ctx context.Context, q querier, kind domain.Kind, subjectID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM requests WHERE kind = ? AND subject_id = ?`,
		string(kind), subjectID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting requests: %w", err)
	}
	return n, nil
}

func scanRequest(scan func(dest ...any) error) (domain.Request, error) {
	var (
		req                                     domain.Request
		kind, status, requestedAt, updatedAt    string
		decidedAt, effectiveAt, dueAt, closedAt sql.NullString
	)

	err := scan(&req.ID, &kind, &req.SubjectID, &req.RequesterID, &status, &req.Note, &req.DecidedBy,
		&requestedAt, &decidedAt, &effectiveAt, &dueAt, &closedAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Request{}, err
		}
		return domain.Request{}, fmt.Errorf("scanning request: %w", err)
	}

	req.Kind = domain.Kind(kind)
	req.Status = domain.Status(status)
	req.RequestedAt, _ = time.Parse(timeFormat, requestedAt)
	req.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	req.DecidedAt = parseOptTime(decidedAt)
	req.EffectiveAt = parseOptTime(effectiveAt)
	req.DueAt = parseOptTime(dueAt)
	req.ClosedAt = parseOptTime(closedAt)

	return req, nil
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeFormat)
}

func parseOptTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, v.String)
	if err != nil {
		return nil
	}
	return &t
}

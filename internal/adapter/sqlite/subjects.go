package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wargadesa/desaflow/internal/domain"
)

// Compile-time check: SubjectRepository implements domain.SubjectRepository.
var _ domain.SubjectRepository = (*SubjectRepository)(nil)

// SubjectRepository implements domain.SubjectRepository using SQLite.
type SubjectRepository struct {
	db *sql.DB
}

func (r *SubjectRepository) Create(ctx context.Context, s domain.Subject) error {
	var quota any
	if s.Quota != nil {
		quota = *s.Quota
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subjects (id, kind, name, quota, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Kind), s.Name, quota,
		s.CreatedAt.Format(timeFormat),
		s.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting subject: %w", err)
	}
	return nil
}

func (r *SubjectRepository) GetByID(ctx context.Context, id string) (domain.Subject, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, kind, name, quota, created_at, updated_at
		 FROM subjects WHERE id = ?`, id,
	)

	s, err := scanSubject(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Subject{}, domain.ErrSubjectNotFound
		}
		return domain.Subject{}, err
	}
	return s, nil
}

func (r *SubjectRepository) List(ctx context.Context, filter domain.SubjectFilter) ([]domain.Subject, error) {
	query := `SELECT id, kind, name, quota, created_at, updated_at FROM subjects`
	var args []any

	if filter.Kind != nil {
		query += ` WHERE kind = ?`
		args = append(args, string(*filter.Kind))
	}

	query += ` ORDER BY created_at DESC, id`

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
		return nil, fmt.Errorf("listing subjects: %w", err)
	}
	defer rows.Close()

	var out []domain.Subject
	for rows.Next() {
		s, err := scanSubject(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

func scanSubject(scan func(dest ...any) error) (domain.Subject, error) {
	var (
		s                    domain.Subject
		kind                 string
		quota                sql.NullInt64
		createdAt, updatedAt string
	)

	err := scan(&s.ID, &kind, &s.Name, &quota, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Subject{}, err
		}
		return domain.Subject{}, fmt.Errorf("scanning subject: %w", err)
	}

	s.Kind = domain.SubjectKind(kind)
	if quota.Valid {
		q := int(quota.Int64)
		s.Quota = &q
	}
	s.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	s.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return s, nil
}

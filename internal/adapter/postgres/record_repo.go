package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"vitals/internal/domain"
)

var _ domain.RecordRepository = (*DB)(nil)

const recordColumns = "id, user_id, weight, systolic, diastolic, created_at, updated_at"

// InsertRecord stores a new record. The server clock assigns created_at.
func (d *DB) InsertRecord(ctx context.Context, userID int64, dr domain.Draft) (domain.HealthRecord, error) {
	rec := domain.HealthRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Weight:    dr.Weight,
		Systolic:  dr.Systolic,
		Diastolic: dr.Diastolic,
	}
	err := d.sql.QueryRowContext(ctx,
		"INSERT INTO health_records (id, user_id, weight, systolic, diastolic) VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
		rec.ID, userID, dr.Weight, dr.Systolic, dr.Diastolic,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return domain.HealthRecord{}, err
	}
	return rec, nil
}

// UpdateRecord overwrites the supplied fields. Absent fields keep their
// stored value.
func (d *DB) UpdateRecord(ctx context.Context, userID int64, id string, p domain.Patch) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	res, err := d.sql.ExecContext(ctx,
		`UPDATE health_records SET
			weight = COALESCE($3, weight),
			systolic = COALESCE($4, systolic),
			diastolic = COALESCE($5, diastolic),
			updated_at = clock_timestamp()
		WHERE id = $1 AND user_id = $2`,
		id, userID, nullFloat(p.Weight), nullInt(p.Systolic), nullInt(p.Diastolic),
	)
	return affected(res, err)
}

// DeleteRecord removes one of the user's records.
func (d *DB) DeleteRecord(ctx context.Context, userID int64, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	res, err := d.sql.ExecContext(ctx,
		"DELETE FROM health_records WHERE id = $1 AND user_id = $2", id, userID)
	return affected(res, err)
}

// ListRecentRecords returns up to limit of the user's records, newest first.
func (d *DB) ListRecentRecords(ctx context.Context, userID int64, limit int) ([]domain.HealthRecord, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM health_records WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.HealthRecord, 0, limit)
	for rows.Next() {
		var r domain.HealthRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Weight, &r.Systolic, &r.Diastolic, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

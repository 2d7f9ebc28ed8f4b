package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lehigh-university-libraries/annotator/internal/models"
)

// PostgresStore persists records in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and ensures the schema is initialized
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS image_records (
			id TEXT PRIMARY KEY,
			image_path TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			format TEXT NOT NULL DEFAULT '',
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			upload_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			annotated BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT NOT NULL DEFAULT '',
			detected_objects TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS image_records_upload_date_idx ON image_records (upload_date DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

const recordColumns = `id, image_path, image_url, format, width, height, upload_date, annotated, description, detected_objects, text`

func (s *PostgresStore) Create(ctx context.Context, record *models.ImageRecord) error {
	a := record.Annotation
	_, err := s.pool.Exec(ctx, `
		INSERT INTO image_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, record.ID, record.ImagePath, record.ImageURL, record.Format, record.Width, record.Height,
		record.UploadDate, record.Annotated, a.Description, a.DetectedObjects.String(), a.Text)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", record.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.ImageRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM image_records WHERE id = $1`, id)
	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresStore) SetAnnotation(ctx context.Context, id string, result models.AnnotationResult) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE image_records
		SET description = $2, detected_objects = $3, text = $4, annotated = TRUE
		WHERE id = $1 AND NOT annotated
	`, id, result.Description, result.DetectedObjects.String(), result.Text)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM image_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyAnnotated
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*models.ImageRecord, int, error) {
	where, args := buildWhere(filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM image_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	query := `SELECT ` + recordColumns + ` FROM image_records` + where + ` ORDER BY upload_date DESC, id`
	if offset, limit := filter.offset(); limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []*models.ImageRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	return records, total, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM image_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// buildWhere renders filter as a WHERE clause with positional arguments
func buildWhere(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Description != "" {
		add("description = $%d", filter.Description)
	}
	if filter.DetectedObjects != "" {
		add("detected_objects = $%d", filter.DetectedObjects)
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(description ILIKE $%d OR detected_objects ILIKE $%d OR text ILIKE $%d)", n, n, n))
	}
	if !filter.UploadedAfter.IsZero() {
		add("upload_date >= $%d", filter.UploadedAfter)
	}
	if !filter.UploadedBefore.IsZero() {
		add("upload_date <= $%d", filter.UploadedBefore)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanRecord(row pgx.Row) (*models.ImageRecord, error) {
	var (
		record  models.ImageRecord
		objects string
	)
	err := row.Scan(&record.ID, &record.ImagePath, &record.ImageURL, &record.Format, &record.Width, &record.Height,
		&record.UploadDate, &record.Annotated, &record.Annotation.Description, &objects, &record.Annotation.Text)
	if err != nil {
		return nil, err
	}
	record.Annotation.DetectedObjects = models.SingleObject(objects)
	return &record, nil
}

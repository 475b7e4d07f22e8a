package series

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Store is the durable, range-queryable point store backed by
// PostgreSQL. Each (measurement, subject, timestamp, field) is unique;
// re-appending the same point overwrites, so recomputed summaries and
// re-synced samples replace rather than duplicate.
type Store struct {
	*sql.DB
}

// Connect opens the store and verifies connectivity.
func Connect(connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &Store{db}, nil
}

// NewStore wraps an existing connection, for tests.
func NewStore(db *sql.DB) *Store {
	return &Store{db}
}

// RunMigrations executes all SQL migration files in order.
func (s *Store) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := s.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	return nil
}

const appendQuery = `
	INSERT INTO series_points (measurement, subject_id, ts, field_name, value_num, value_text)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (measurement, subject_id, ts, field_name) DO UPDATE
	SET value_num = EXCLUDED.value_num,
	    value_text = EXCLUDED.value_text
`

// Append writes the given points. All fields of all points are written
// in one transaction.
func (s *Store) Append(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, appendQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare append: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		for name, value := range p.Fields {
			var num sql.NullFloat64
			var text sql.NullString

			switch v := value.(type) {
			case float64:
				num = sql.NullFloat64{Float64: v, Valid: true}
			case int:
				num = sql.NullFloat64{Float64: float64(v), Valid: true}
			case string:
				text = sql.NullString{String: v, Valid: true}
			default:
				return fmt.Errorf("unsupported field type %T for %s.%s", value, p.Measurement, name)
			}

			if _, err := stmt.ExecContext(ctx, p.Measurement, p.SubjectID, p.Timestamp.UTC(), name, num, text); err != nil {
				return fmt.Errorf("failed to append %s point for %s: %w", p.Measurement, p.SubjectID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}

	return nil
}

const rangeQuery = `
	SELECT ts, field_name, value_num, value_text
	FROM series_points
	WHERE measurement = $1 AND subject_id = $2 AND ts >= $3 AND ts < $4
	ORDER BY ts, field_name
`

// Query returns the records of a measurement for one subject within
// [start, end), ordered by timestamp, with all fields written at the
// same timestamp merged into a single record. No matching points is an
// empty result, not an error.
func (s *Store) Query(ctx context.Context, measurement, subjectID string, start, end time.Time) ([]Record, error) {
	rows, err := s.QueryContext(ctx, rangeQuery, measurement, subjectID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s points: %w", measurement, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var ts time.Time
		var fieldName string
		var num sql.NullFloat64
		var text sql.NullString

		if err := rows.Scan(&ts, &fieldName, &num, &text); err != nil {
			return nil, fmt.Errorf("failed to scan point row: %w", err)
		}

		var value any
		switch {
		case num.Valid:
			value = num.Float64
		case text.Valid:
			value = text.String
		default:
			continue
		}

		// Rows arrive ordered by ts, so same-timestamp fields are adjacent.
		if n := len(records); n > 0 && records[n-1].Timestamp.Equal(ts) {
			records[n-1].Fields[fieldName] = value
		} else {
			records = append(records, Record{
				Timestamp: ts,
				Fields:    map[string]any{fieldName: value},
			})
		}
	}

	return records, rows.Err()
}

const subjectsQuery = `
	SELECT DISTINCT subject_id
	FROM series_points
	WHERE measurement = $1 AND ts >= $2 AND ts < $3
	ORDER BY subject_id
`

// SubjectsWithin returns the subjects that have at least one point of
// the measurement within [start, end).
func (s *Store) SubjectsWithin(ctx context.Context, measurement string, start, end time.Time) ([]string, error) {
	rows, err := s.QueryContext(ctx, subjectsQuery, measurement, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subject row: %w", err)
		}
		subjects = append(subjects, id)
	}

	return subjects, rows.Err()
}

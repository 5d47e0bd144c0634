package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/phambaophuc/image-relay/internal/models"
)

// Store keeps session and image records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at dbPath and creates tables if they don't exist.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		instruction TEXT,
		status TEXT NOT NULL,
		image_count INTEGER NOT NULL DEFAULT 0,
		cost REAL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS image_uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		filename TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		size INTEGER NOT NULL,
		format TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		caption TEXT,
		status TEXT NOT NULL,
		metadata TEXT,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_image_uploads_session ON image_uploads(session_id, id);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordSession inserts the session or updates its status.
func (s *Store) RecordSession(ctx context.Context, rec models.SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, instruction, status, image_count, cost, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			instruction = excluded.instruction,
			status = excluded.status,
			image_count = excluded.image_count,
			cost = COALESCE(excluded.cost, sessions.cost),
			updated_at = excluded.updated_at,
			completed_at = COALESCE(excluded.completed_at, sessions.completed_at)`,
		rec.SessionID, rec.UserID, rec.Instruction, rec.Status, rec.ImageCount, rec.Cost,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), utcPtr(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// RecordImage inserts the image or updates its status. Each processed
// image has its own row, even when two uploads share bytes and name.
func (s *Store) RecordImage(ctx context.Context, rec models.ImageRecord) error {
	if rec.ImageID == "" {
		return errors.New("image record has no image id")
	}
	var metadata []byte
	if len(rec.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_uploads (image_id, session_id, user_id, filename, fingerprint, size, format, width, height, caption, status, metadata, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(image_id) DO UPDATE SET
			status = excluded.status,
			recorded_at = excluded.recorded_at`,
		rec.ImageID, rec.SessionID, rec.UserID, rec.Filename, rec.Fingerprint, rec.Size, string(rec.Format),
		rec.Width, rec.Height, rec.Caption, rec.Status, nullString(metadata), rec.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert image: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. It returns nil, nil when unknown.
func (s *Store) GetSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, instruction, status, image_count, cost, created_at, updated_at, completed_at
		 FROM sessions WHERE session_id = ?`,
		id,
	)

	var (
		rec         models.SessionRecord
		instruction sql.NullString
		cost        sql.NullFloat64
		completedAt sql.NullTime
	)
	err := row.Scan(&rec.SessionID, &rec.UserID, &instruction, &rec.Status, &rec.ImageCount, &cost,
		&rec.CreatedAt, &rec.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if instruction.Valid {
		rec.Instruction = &instruction.String
	}
	if cost.Valid {
		rec.Cost = &cost.Float64
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return &rec, nil
}

// ListSessions returns the user's most recent sessions.
func (s *Store) ListSessions(ctx context.Context, userID int64, limit int) ([]models.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	_ = rows.Close()

	out := make([]models.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// ListImages returns the images of a session in upload order.
func (s *Store) ListImages(ctx context.Context, sessionID string) ([]models.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT image_id, session_id, user_id, filename, fingerprint, size, format, width, height, caption, status, metadata, recorded_at
		 FROM image_uploads WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var images []models.ImageRecord
	for rows.Next() {
		var (
			rec      models.ImageRecord
			format   string
			caption  sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&rec.ImageID, &rec.SessionID, &rec.UserID, &rec.Filename, &rec.Fingerprint, &rec.Size, &format,
			&rec.Width, &rec.Height, &caption, &rec.Status, &metadata, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		rec.Format = models.ImageFormat(format)
		if caption.Valid {
			rec.Caption = &caption.String
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		images = append(images, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return images, nil
}

// Purge deletes finished sessions last updated before cutoff, with their images.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM image_uploads WHERE session_id IN (
			SELECT session_id FROM sessions WHERE completed_at IS NOT NULL AND updated_at < ?)`,
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("purge images: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE completed_at IS NOT NULL AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return n, nil
}

// Timestamps are stored in UTC so that text comparison orders them.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

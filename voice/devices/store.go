package devices

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/imtaco/voice-client-exp/internal/errors"
)

const ErrStore errors.Code = "device_store_error"

// SQLStore persists selections in a local sqlite database under the config
// directory.
type SQLStore struct {
	db *sql.DB
}

func OpenStore(configDir string) (*SQLStore, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, errors.Wrap(ErrStore, err, "create config dir")
	}

	db, err := sql.Open("sqlite", filepath.Join(configDir, "voice.db"))
	if err != nil {
		return nil, errors.Wrap(ErrStore, err, "open database")
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(ErrStore, err, "configure database")
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS device_selections (
			kind      TEXT PRIMARY KEY,
			device_id TEXT NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(ErrStore, err, "create selections table")
	}
	return &SQLStore{db: db}, nil
}

// NewStoreWithDB wraps an already opened database; used by tests and by the
// daemon when the database is shared with other subsystems.
func NewStoreWithDB(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS device_selections (
			kind      TEXT PRIMARY KEY,
			device_id TEXT NOT NULL
		);
	`); err != nil {
		return nil, errors.Wrap(ErrStore, err, "create selections table")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context) (map[Kind]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, device_id FROM device_selections`)
	if err != nil {
		return nil, errors.Wrap(ErrStore, err, "load selections")
	}
	defer rows.Close()

	out := map[Kind]string{}
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, errors.Wrap(ErrStore, err, "scan selection")
		}
		out[Kind(kind)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(ErrStore, err, "iterate selections")
	}
	return out, nil
}

func (s *SQLStore) Save(ctx context.Context, kind Kind, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_selections (kind, device_id) VALUES (?, ?)
		ON CONFLICT (kind) DO UPDATE SET device_id = excluded.device_id
	`, string(kind), deviceID)
	if err != nil {
		return errors.Wrap(ErrStore, err, "save selection")
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

// Backup writes a consistent snapshot of the sqlite database to w.
//
// The snapshot is taken with VACUUM INTO so it is safe while the bot keeps
// writing. Other drivers return ErrBackupUnsupported.
func Backup(ctx context.Context, db *sqlx.DB, w io.Writer) (int64, error) {
	if db.DriverName() != DriverSQLite {
		return 0, ErrBackupUnsupported
	}

	dir, err := os.MkdirTemp("", "gdadmin-backup-")
	if err != nil {
		return 0, fmt.Errorf("failed to create backup directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "backup.db")
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return 0, fmt.Errorf("failed to snapshot database: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("failed to copy snapshot: %w", err)
	}
	return n, nil
}

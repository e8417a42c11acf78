package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFileDB(t *testing.T) *sqlx.DB {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "bot.db")
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Driver = "mysql"
		db, err := Open(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})

	t.Run("sqlite file with schema", func(t *testing.T) {
		db := openFileDB(t)

		for _, table := range []string{"administrators", "recruits", "settings", "logs", "users"} {
			var count int
			err := db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "table %s should exist", table)
		}
	})
}

func TestEnsureSchema(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		db := NewTestDB(t)
		assert.NoError(t, EnsureSchema(context.Background(), db))
	})

	t.Run("exec error", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		db := sqlx.NewDb(mockDB, "sqlmock")
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS administrators").WillReturnError(errors.New("disk full"))

		err = EnsureSchema(context.Background(), db)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ensure schema")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("postgres dialect", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		db := sqlx.NewDb(mockDB, DriverPostgres)
		mock.MatchExpectationsInOrder(true)
		for _, stmt := range postgresSchema {
			mock.ExpectExec(regexpPrefix(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
		}

		require.NoError(t, EnsureSchema(context.Background(), db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// regexpPrefix matches a statement by its first line
func regexpPrefix(stmt string) string {
	first := strings.SplitN(stmt, "\n", 2)[0]
	return "^" + regexp.QuoteMeta(strings.TrimSpace(first))
}

func TestBackup(t *testing.T) {
	t.Run("sqlite snapshot", func(t *testing.T) {
		db := openFileDB(t)
		_, err := db.Exec(`INSERT INTO recruits (date_s, place, max_people) VALUES ('2025-01-01 10:00', 'Room A', 6)`)
		require.NoError(t, err)

		var buf bytes.Buffer
		n, err := Backup(context.Background(), db, &buf)
		require.NoError(t, err)
		assert.Equal(t, int64(buf.Len()), n)
		assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("SQLite format 3")))

		// The snapshot must be a usable database
		path := filepath.Join(t.TempDir(), "restored.db")
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
		restored, err := sqlx.Open(DriverSQLite, path)
		require.NoError(t, err)
		defer restored.Close()

		var place string
		require.NoError(t, restored.Get(&place, "SELECT place FROM recruits"))
		assert.Equal(t, "Room A", place)
	})

	t.Run("postgres unsupported", func(t *testing.T) {
		mockDB, _, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		db := sqlx.NewDb(mockDB, DriverPostgres)
		_, err = Backup(context.Background(), db, io.Discard)
		assert.ErrorIs(t, err, ErrBackupUnsupported)
	})
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_Archive(t *testing.T) {
	t.Run("uploads with timestamped key", func(t *testing.T) {
		putter := &fakePutter{}
		archiver := NewS3ArchiverWithClient(putter, "gd-backups", "panel")
		archiver.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

		key, err := archiver.Archive(context.Background(), strings.NewReader("snapshot"))
		require.NoError(t, err)
		assert.Equal(t, "panel/backup-20250304-050607.db", key)
		assert.Equal(t, "gd-backups", *putter.input.Bucket)
		assert.Equal(t, key, *putter.input.Key)
		assert.Equal(t, "snapshot", string(putter.body))
	})

	t.Run("upload error", func(t *testing.T) {
		archiver := NewS3ArchiverWithClient(&fakePutter{err: errors.New("access denied")}, "gd-backups", "")
		_, err := archiver.Archive(context.Background(), strings.NewReader("snapshot"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to upload backup to s3")
	})
}

func TestS3Config_Enabled(t *testing.T) {
	assert.False(t, S3Config{}.Enabled())
	assert.True(t, S3Config{Bucket: "b"}.Enabled())
}

// Package storage connects to the database shared with the Discord bot.
//
// # Drivers
//
// SQLite (github.com/mattn/go-sqlite3) is the bot's native store and the
// default. PostgreSQL (github.com/lib/pq) is supported for deployments that
// moved the bot to a server database. Queries elsewhere are written with ?
// placeholders and passed through sqlx Rebind.
//
// # Schema
//
// EnsureSchema creates any missing table. The bot owns recruits and
// settings; the panel only needs them to exist in development databases.
//
// # Backups
//
// Backup streams a VACUUM INTO snapshot of a SQLite database. An S3Archiver
// can keep a copy of every snapshot in a bucket:
//
//	archiver, err := storage.NewS3Archiver(ctx, storage.S3Config{
//		Region: "ap-northeast-1",
//		Bucket: "gd-backups",
//	})
//	key, err := archiver.Archive(ctx, snapshot)
package storage

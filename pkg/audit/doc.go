// Package audit records administrative changes in the logs table the panel
// shares with the bot.
//
// # Entries
//
// Every entry carries a level (INFO, WARNING, ERROR), a source (ADMIN for the
// panel, BOT for the bot itself) and a free-form message. Entries are append
// only; this package never updates or deletes them.
//
// # Usage
//
// Repositories record a change after it has been applied:
//
//	if err := logger.Record(ctx, audit.LevelInfo, msg, audit.SourceAdmin); err != nil {
//		return err // wraps audit.ErrAuditFailed
//	}
//
// Listing is newest first:
//
//	entries, err := logger.List(ctx, audit.ListFilter{Level: audit.LevelWarning, Limit: 50})
//
// The same listing is served as JSON on GET /api/logs.
package audit

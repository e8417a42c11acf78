// Package settings stores the bot's key/value configuration (role and channel
// ids). Writes are upserts and each one is recorded in the audit log.
package settings

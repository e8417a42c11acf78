// Package recruit manages the GD session records the bot announces in Discord.
//
// The bot creates recruits and owns their thread, author and message ids;
// the panel edits the remaining fields, deletes records and exports them as
// CSV. Update and Delete write an audit entry after the change is applied and
// never for a change that failed.
package recruit

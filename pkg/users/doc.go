// Package users resolves Discord user ids to display names for the recruit
// pages. Names come from the users table the bot keeps current; this package
// never calls the Discord API.
package users

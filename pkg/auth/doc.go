// Package auth verifies administrator credentials for the GD admin panel.
//
// # Overview
//
// Administrators are provisioned directly in the bot database with a bcrypt
// hash in the password column. The Authenticator looks an account up by
// username, insists on exactly one match and compares the hash. Every failure
// collapses into ErrInvalidCredentials so the login page never tells a caller
// which half of the pair was wrong.
//
// # Usage
//
//	store := auth.NewSQLCredentialStore(db)
//	authn := auth.NewAuthenticator(store, logger)
//
//	principal, err := authn.Authenticate(ctx, "alice", "s3cret")
//	if errors.Is(err, auth.ErrInvalidCredentials) {
//		// render the login form again
//	}
//
// # Session Identifiers
//
// SessionIDGenerator produces 256-bit random ids encoded as base64url.
// Only Fingerprint(id) may be written to logs.
package auth

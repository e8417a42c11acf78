// Package middleware guards the panel's routes.
//
// SessionGate runs on every request. Routes under /auth/, /health/ and
// /static/ pass through; everything else needs a logged-in session or is
// redirected to the login page. The principal is stored in the request
// context for handlers and for the Authorizer.
//
//	gate := middleware.NewSessionGate(sessionManager, logger)
//	router.Use(gate.Handler)
//
// Authorizer protects mutating routes with a role check:
//
//	admin := middleware.NewAuthorizer(auth.RoleAdmin, metrics, logger)
//	router.Handle("/gd_admin/delete/{id}", admin.RequireFunc(h.deleteRecruit))
//
// LoginThrottle limits login attempts per client address, backed by an
// in-process RateLimiter or a Redis DistributedRateLimiter.
package middleware

// Package httputil provides HTTP helpers shared by the panel's handlers.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteErrorMessage(w, http.StatusNotFound, "recruit not found")
//
// # Request Parsing
//
//	id, err := httputil.ParsePathID(r, "id")
//	limit, err := httputil.ParseQueryInt(r, "limit", 100)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger, renderErrorPage),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: session gate and role checks
package httputil

// Package web serves the admin panel.
//
// Every route except /auth/, /health/ and /static/ runs behind the session
// gate. Mutating routes and downloads additionally require the admin role.
// Pages are html/template files embedded in the binary; /api/logs returns
// JSON.
package web

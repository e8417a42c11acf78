package middleware

import (
	"net/http"

	"github.com/tkf27/gdbot-admin/pkg/httputil"
)

// ErrorPage renders an error response. The web server installs one that
// renders HTML templates; the default writes plain text or JSON.
type ErrorPage func(w http.ResponseWriter, r *http.Request, status int, message string)

func defaultErrorPage(w http.ResponseWriter, r *http.Request, status int, message string) {
	if httputil.WantsJSON(r) {
		httputil.WriteErrorMessage(w, status, message)
		return
	}
	http.Error(w, message, status)
}

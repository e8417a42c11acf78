package audit

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tkf27/gdbot-admin/pkg/httputil"
)

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	logs   Lister
	logger logrus.FieldLogger
}

// NewHandlers creates new audit handlers
func NewHandlers(logs Lister, logger logrus.FieldLogger) *Handlers {
	return &Handlers{
		logs:   logs,
		logger: logger,
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/logs", h.listEntries).Methods(http.MethodGet)
}

// listEntries handles GET /api/logs
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.logs.List(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list audit logs")
		httputil.WriteInternalError(w)
		return
	}

	filter = filter.normalize()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// ParseFilter reads level, source, limit and offset from the query string
func ParseFilter(r *http.Request) (ListFilter, error) {
	var filter ListFilter

	if level := strings.ToUpper(httputil.ParseQueryString(r, "level", "")); level != "" {
		filter.Level = Level(level)
		if !filter.Level.Valid() {
			return filter, fmt.Errorf("invalid level: %s", level)
		}
	}

	if source := strings.ToUpper(httputil.ParseQueryString(r, "source", "")); source != "" {
		filter.Source = Source(source)
		if !filter.Source.Valid() {
			return filter, fmt.Errorf("invalid source: %s", source)
		}
	}

	limit, err := httputil.ParseQueryInt(r, "limit", DefaultListLimit)
	if err != nil {
		return filter, err
	}
	if limit < 1 || limit > MaxListLimit {
		return filter, fmt.Errorf("limit must be between 1 and %d", MaxListLimit)
	}
	filter.Limit = limit

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		return filter, err
	}
	if offset < 0 {
		return filter, fmt.Errorf("offset must not be negative")
	}
	filter.Offset = offset

	return filter, nil
}

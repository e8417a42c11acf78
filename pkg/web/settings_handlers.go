package web

import (
	"net/http"
	"strings"

	"github.com/tkf27/gdbot-admin/pkg/settings"
)

var settingLabels = map[string]string{
	settings.KeyMentorRoleID: "Mentor role ID",
	settings.KeyAdminRoleID:  "Admin role ID",
	settings.KeyChannelID:    "Recruit channel ID",
}

type settingField struct {
	Key   string
	Label string
	Value string
}

type settingsPage struct {
	Fields []settingField
}

// settingsForm handles GET /gd_admin/settings
func (s *Server) settingsForm(w http.ResponseWriter, r *http.Request) {
	values, err := s.settings.All(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	fields := make([]settingField, 0, len(settings.KnownKeys))
	for _, key := range settings.KnownKeys {
		fields = append(fields, settingField{
			Key:   key,
			Label: settingLabels[key],
			Value: values[key],
		})
	}

	s.render(w, r, http.StatusOK, "settings", s.view(r, "Settings", settingsPage{Fields: fields}))
}

// updateSettings handles POST /gd_admin/settings. Only submitted keys whose
// value changed are written, each with its own audit entry.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Invalid form submission.")
		return
	}

	current, err := s.settings.All(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	for _, key := range settings.KnownKeys {
		if _, submitted := r.PostForm[key]; !submitted {
			continue
		}
		value := strings.TrimSpace(r.PostFormValue(key))
		if value == current[key] {
			continue
		}

		if err := s.settings.Set(r.Context(), key, value); err != nil {
			s.writeError(w, r, err)
			return
		}

		s.log(r).WithField("key", key).Info("Setting updated")
	}

	http.Redirect(w, r, "/gd_admin/settings", http.StatusSeeOther)
}

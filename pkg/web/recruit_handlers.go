package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tkf27/gdbot-admin/pkg/httputil"
	"github.com/tkf27/gdbot-admin/pkg/recruit"
	"github.com/tkf27/gdbot-admin/pkg/users"
)

type recruitRow struct {
	Recruit      recruit.Recruit
	Participants []string
	Mentors      []string
}

type listPage struct {
	Rows []recruitRow
}

// recruitForm keeps the submitted text so invalid input can be shown again
type recruitForm struct {
	DateS        string
	Place        string
	MaxPeople    string
	Message      string
	MentorNeeded bool
	Industry     string
	Participants string
	Mentors      string
}

type editPage struct {
	ID   int64
	Form recruitForm
}

func formFromRecruit(r recruit.Recruit) recruitForm {
	return recruitForm{
		DateS:        r.DateS,
		Place:        r.Place,
		MaxPeople:    strconv.Itoa(r.MaxPeople),
		Message:      r.Message,
		MentorNeeded: r.MentorNeeded,
		Industry:     r.Industry,
		Participants: r.Participants.String(),
		Mentors:      r.Mentors.String(),
	}
}

func formFromRequest(r *http.Request) recruitForm {
	return recruitForm{
		DateS:        strings.TrimSpace(r.PostFormValue("date_s")),
		Place:        strings.TrimSpace(r.PostFormValue("place")),
		MaxPeople:    strings.TrimSpace(r.PostFormValue("max_people")),
		Message:      r.PostFormValue("message"),
		MentorNeeded: r.PostFormValue("mentor_needed") != "",
		Industry:     strings.TrimSpace(r.PostFormValue("industry")),
		Participants: strings.TrimSpace(r.PostFormValue("participants")),
		Mentors:      strings.TrimSpace(r.PostFormValue("mentors")),
	}
}

// changes converts the submitted text into a recruit update
func (f recruitForm) changes() (recruit.Changes, error) {
	maxPeople, err := strconv.Atoi(f.MaxPeople)
	if err != nil {
		return recruit.Changes{}, fmt.Errorf("%w: max people must be a number", recruit.ErrInvalidRecruit)
	}
	participants, err := recruit.ParseIDList(f.Participants)
	if err != nil {
		return recruit.Changes{}, fmt.Errorf("participants: %w", err)
	}
	mentors, err := recruit.ParseIDList(f.Mentors)
	if err != nil {
		return recruit.Changes{}, fmt.Errorf("mentors: %w", err)
	}

	return recruit.Changes{
		DateS:        f.DateS,
		Place:        f.Place,
		MaxPeople:    maxPeople,
		Message:      f.Message,
		MentorNeeded: f.MentorNeeded,
		Industry:     f.Industry,
		Participants: participants,
		Mentors:      mentors,
	}, nil
}

func displayNames(names map[int64]string, ids recruit.IDList) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, users.DisplayName(names, id))
	}
	return out
}

// listRecruits handles GET /gd_admin
func (s *Server) listRecruits(w http.ResponseWriter, r *http.Request) {
	recruits, err := s.recruits.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var ids []int64
	for _, rec := range recruits {
		ids = append(ids, rec.MemberIDs()...)
	}

	// Names are cosmetic; the list still renders with raw ids
	names, err := s.users.Names(r.Context(), ids)
	if err != nil {
		s.log(r).WithError(err).Warn("Failed to resolve participant names")
		names = map[int64]string{}
	}

	rows := make([]recruitRow, 0, len(recruits))
	for _, rec := range recruits {
		rows = append(rows, recruitRow{
			Recruit:      rec,
			Participants: displayNames(names, rec.Participants),
			Mentors:      displayNames(names, rec.Mentors),
		})
	}

	s.render(w, r, http.StatusOK, "list", s.view(r, "Recruits", listPage{Rows: rows}))
}

// editRecruitForm handles GET /gd_admin/edit/{id}
func (s *Server) editRecruitForm(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathID(r, "id")
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.recruits.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page := editPage{ID: id, Form: formFromRecruit(*rec)}
	s.render(w, r, http.StatusOK, "edit", s.view(r, fmt.Sprintf("Recruit #%d", id), page))
}

// updateRecruit handles POST /gd_admin/edit/{id}
func (s *Server) updateRecruit(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathID(r, "id")
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Invalid form submission.")
		return
	}

	form := formFromRequest(r)
	changes, err := form.changes()
	if err == nil {
		err = s.recruits.Update(r.Context(), id, changes)
	}
	if errors.Is(err, recruit.ErrInvalidRecruit) {
		data := s.view(r, fmt.Sprintf("Recruit #%d", id), editPage{ID: id, Form: form})
		data.Error = err.Error()
		s.render(w, r, http.StatusBadRequest, "edit", data)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log(r).WithField("recruit_id", id).Info("Recruit updated")

	http.Redirect(w, r, "/gd_admin", http.StatusSeeOther)
}

// deleteRecruit handles POST /gd_admin/delete/{id}
func (s *Server) deleteRecruit(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathID(r, "id")
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.recruits.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log(r).WithField("recruit_id", id).Info("Recruit deleted")

	http.Redirect(w, r, "/gd_admin", http.StatusSeeOther)
}

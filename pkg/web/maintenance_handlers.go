package web

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/tkf27/gdbot-admin/pkg/audit"
	"github.com/tkf27/gdbot-admin/pkg/storage"
)

const recentLogCount = 5

type dashboardPage struct {
	RecruitCount int
	RecentLogs   []audit.Entry
}

// dashboard handles GET /dashboard
func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	recruits, err := s.recruits.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recent, err := s.audit.List(r.Context(), audit.ListFilter{Limit: recentLogCount})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page := dashboardPage{RecruitCount: len(recruits), RecentLogs: recent}
	s.render(w, r, http.StatusOK, "dashboard", s.view(r, "Dashboard", page))
}

type logsView struct {
	Levels     []audit.Level
	Sources    []audit.Source
	Filter     audit.ListFilter
	Entries    []audit.Entry
	HasPrev    bool
	PrevOffset int
	HasNext    bool
	NextOffset int
}

// logsPage handles GET /gd_admin/logs
func (s *Server) logsPage(w http.ResponseWriter, r *http.Request) {
	filter, err := audit.ParseFilter(r)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit <= 0 {
		filter.Limit = audit.DefaultListLimit
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page := logsView{
		Levels:     []audit.Level{audit.LevelInfo, audit.LevelWarning, audit.LevelError},
		Sources:    []audit.Source{audit.SourceAdmin, audit.SourceBot},
		Filter:     filter,
		Entries:    entries,
		HasPrev:    filter.Offset > 0,
		PrevOffset: max(filter.Offset-filter.Limit, 0),
		HasNext:    len(entries) == filter.Limit,
		NextOffset: filter.Offset + filter.Limit,
	}
	s.render(w, r, http.StatusOK, "logs", s.view(r, "Logs", page))
}

type maintenanceView struct {
	BackupSupported bool
	ArchiveEnabled  bool
}

// maintenancePage handles GET /gd_admin/update
func (s *Server) maintenancePage(w http.ResponseWriter, r *http.Request) {
	page := maintenanceView{
		BackupSupported: s.db.DriverName() == storage.DriverSQLite,
		ArchiveEnabled:  s.archiver != nil,
	}
	s.render(w, r, http.StatusOK, "update", s.view(r, "Maintenance", page))
}

// backup handles GET /gd_admin/backup. The snapshot is staged in a temp file
// so nothing is sent until the audit entry is written.
func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, _ := principal(r)

	f, err := os.CreateTemp("", "gdadmin-download-*.db")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("failed to create backup file: %w", err))
		return
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	size, err := storage.Backup(ctx, s.db, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logger := s.log(r).WithField("bytes", size)

	if s.archiver != nil {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			s.writeError(w, r, fmt.Errorf("failed to rewind backup: %w", err))
			return
		}
		key, err := s.archiver.Archive(ctx, f)
		if err != nil {
			logger.WithError(err).Error("Failed to archive backup")
		} else {
			logger = logger.WithField("archive_key", key)
		}
	}

	message := fmt.Sprintf("Database backup downloaded by %s", p.Username)
	if err := s.audit.Record(ctx, audit.LevelInfo, message, audit.SourceAdmin); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.writeError(w, r, fmt.Errorf("failed to rewind backup: %w", err))
		return
	}

	filename := fmt.Sprintf("recruits_backup_%s.db", s.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		logger.WithError(err).Warn("Backup download interrupted")
		return
	}
	logger.Info("Database backup downloaded")
}

// exportCSV handles GET /gd_admin/export_csv
func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, _ := principal(r)

	var buf bytes.Buffer
	if err := s.recruits.ExportCSV(ctx, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}

	message := fmt.Sprintf("Recruits exported as CSV by %s", p.Username)
	if err := s.audit.Record(ctx, audit.LevelInfo, message, audit.SourceAdmin); err != nil {
		s.writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("recruits_%s.csv", s.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)

	if _, err := buf.WriteTo(w); err != nil {
		s.log(r).WithError(err).Warn("CSV download interrupted")
		return
	}
	s.log(r).Info("Recruits exported")
}

package recruit

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tkf27/gdbot-admin/pkg/audit"
)

const selectColumns = `id, date_s, place, max_people,
	COALESCE(message, '') AS message,
	COALESCE(mentor_needed, 0) AS mentor_needed,
	COALESCE(industry, '') AS industry,
	thread_id, author_id, msg_id,
	participants, mentors,
	COALESCE(notification_sent, 0) AS notification_sent,
	COALESCE(is_deleted, 0) AS is_deleted`

// csvHeader matches the recruits table column order
var csvHeader = []string{
	"id", "date_s", "place", "max_people", "message", "mentor_needed", "industry",
	"thread_id", "author_id", "msg_id", "participants", "mentors",
	"notification_sent", "is_deleted",
}

// Repository reads and mutates recruits in the bot database
type Repository struct {
	db     *sqlx.DB
	audit  audit.Logger
	logger logrus.FieldLogger
}

// NewRepository creates a recruit repository.
// Every successful mutation is recorded through auditLog.
func NewRepository(db *sqlx.DB, auditLog audit.Logger, logger logrus.FieldLogger) *Repository {
	if auditLog == nil {
		auditLog = audit.NoOpLogger{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Repository{
		db:     db,
		audit:  auditLog,
		logger: logger,
	}
}

// List returns every recruit, newest first
func (r *Repository) List(ctx context.Context) ([]Recruit, error) {
	recruits := []Recruit{}
	query := `SELECT ` + selectColumns + ` FROM recruits ORDER BY id DESC`
	if err := r.db.SelectContext(ctx, &recruits, query); err != nil {
		return nil, fmt.Errorf("failed to list recruits: %w", err)
	}
	return recruits, nil
}

// Get returns one recruit or ErrNotFound
func (r *Repository) Get(ctx context.Context, id int64) (*Recruit, error) {
	var rec Recruit
	query := r.db.Rebind(`SELECT ` + selectColumns + ` FROM recruits WHERE id = ?`)
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recruit %d: %w", id, err)
	}
	return &rec, nil
}

// Update replaces the editable fields of a recruit and records an INFO entry
// holding the prior record and the applied change.
func (r *Repository) Update(ctx context.Context, id int64, changes Changes) error {
	if err := changes.Validate(); err != nil {
		return err
	}
	if changes.Participants == nil {
		changes.Participants = IDList{}
	}
	if changes.Mentors == nil {
		changes.Mentors = IDList{}
	}

	before, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	query := r.db.Rebind(`UPDATE recruits SET
		date_s = ?, place = ?, max_people = ?, message = ?, mentor_needed = ?,
		industry = ?, participants = ?, mentors = ?
		WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query,
		changes.DateS, changes.Place, changes.MaxPeople, changes.Message, boolToInt(changes.MentorNeeded),
		changes.Industry, changes.Participants, changes.Mentors,
		id,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update recruit %d: %w", ErrMutationFailed, id, err)
	}
	if err := requireRows(result); err != nil {
		return err
	}

	message := fmt.Sprintf("Recruit ID: %d was updated. Before: %s After: %s", id, snapshot(before), snapshot(changes))
	return r.record(ctx, id, audit.LevelInfo, message)
}

// Delete removes a recruit and records a WARNING entry holding the deleted record
func (r *Repository) Delete(ctx context.Context, id int64) error {
	before, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM recruits WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete recruit %d: %w", ErrMutationFailed, id, err)
	}
	if err := requireRows(result); err != nil {
		return err
	}

	message := fmt.Sprintf("Recruit ID: %d was deleted. Data: %s", id, snapshot(before))
	return r.record(ctx, id, audit.LevelWarning, message)
}

// ExportCSV writes every recruit ordered by id, with a header row
func (r *Repository) ExportCSV(ctx context.Context, w io.Writer) error {
	recruits := []Recruit{}
	query := `SELECT ` + selectColumns + ` FROM recruits ORDER BY id`
	if err := r.db.SelectContext(ctx, &recruits, query); err != nil {
		return fmt.Errorf("failed to load recruits for export: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, rec := range recruits {
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.DateS,
			rec.Place,
			strconv.Itoa(rec.MaxPeople),
			rec.Message,
			strconv.Itoa(boolToInt(rec.MentorNeeded)),
			rec.Industry,
			formatOptionalID(rec.ThreadID),
			formatOptionalID(rec.AuthorID),
			formatOptionalID(rec.MsgID),
			rec.Participants.String(),
			rec.Mentors.String(),
			strconv.Itoa(boolToInt(rec.NotificationSent)),
			strconv.Itoa(boolToInt(rec.IsDeleted)),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func (r *Repository) record(ctx context.Context, id int64, level audit.Level, message string) error {
	if err := r.audit.Record(ctx, level, message, audit.SourceAdmin); err != nil {
		if !errors.Is(err, audit.ErrAuditFailed) {
			err = fmt.Errorf("%w: %w", audit.ErrAuditFailed, err)
		}
		r.logger.WithError(err).WithField("recruit_id", id).Error("Recruit changed but audit entry was not written")
		return fmt.Errorf("recruit %d: %w", id, err)
	}
	return nil
}

func requireRows(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %w", ErrMutationFailed, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func snapshot(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

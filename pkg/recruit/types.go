package recruit

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the format the bot writes into date_s
const DateLayout = "2006/01/02 15:04"

var (
	// ErrNotFound is returned when no recruit has the requested id
	ErrNotFound = errors.New("recruit not found")

	// ErrMutationFailed is returned when an update or delete could not be applied
	ErrMutationFailed = errors.New("recruit mutation failed")

	// ErrInvalidRecruit is returned when submitted fields do not validate
	ErrInvalidRecruit = errors.New("invalid recruit")
)

// IDList is an ordered list of Discord user ids stored as a JSON array
type IDList []int64

// Scan implements sql.Scanner
func (l *IDList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = IDList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for id list: %T", src)
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		*l = IDList{}
		return nil
	}

	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("failed to decode id list: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	*l = ids
	return nil
}

// Value implements driver.Valuer
func (l IDList) Value() (driver.Value, error) {
	return l.String(), nil
}

// String returns the JSON form written to the database
func (l IDList) String() string {
	if len(l) == 0 {
		return "[]"
	}
	data, _ := json.Marshal([]int64(l))
	return string(data)
}

// ParseIDList parses a JSON array of ids as typed into the edit form
func ParseIDList(text string) (IDList, error) {
	var l IDList
	if err := l.Scan(text); err != nil {
		return nil, fmt.Errorf("%w: ids must be a JSON array of numbers", ErrInvalidRecruit)
	}
	for _, id := range l {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid user id %d", ErrInvalidRecruit, id)
		}
	}
	return l, nil
}

// Recruit is a GD session announced by the bot
type Recruit struct {
	ID               int64  `db:"id" json:"id"`
	DateS            string `db:"date_s" json:"date_s"`
	Place            string `db:"place" json:"place"`
	MaxPeople        int    `db:"max_people" json:"max_people"`
	Message          string `db:"message" json:"message"`
	MentorNeeded     bool   `db:"mentor_needed" json:"mentor_needed"`
	Industry         string `db:"industry" json:"industry"`
	ThreadID         *int64 `db:"thread_id" json:"thread_id"`
	AuthorID         *int64 `db:"author_id" json:"author_id"`
	MsgID            *int64 `db:"msg_id" json:"msg_id"`
	Participants     IDList `db:"participants" json:"participants"`
	Mentors          IDList `db:"mentors" json:"mentors"`
	NotificationSent bool   `db:"notification_sent" json:"notification_sent"`
	IsDeleted        bool   `db:"is_deleted" json:"is_deleted"`
}

// MemberIDs returns participant and mentor ids without duplicates
func (r Recruit) MemberIDs() []int64 {
	seen := make(map[int64]struct{}, len(r.Participants)+len(r.Mentors))
	ids := make([]int64, 0, len(r.Participants)+len(r.Mentors))
	for _, list := range []IDList{r.Participants, r.Mentors} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Changes holds the fields an administrator may edit.
// Bot-owned fields (thread, author, message ids) are never written.
type Changes struct {
	DateS        string `json:"date_s"`
	Place        string `json:"place"`
	MaxPeople    int    `json:"max_people"`
	Message      string `json:"message"`
	MentorNeeded bool   `json:"mentor_needed"`
	Industry     string `json:"industry"`
	Participants IDList `json:"participants"`
	Mentors      IDList `json:"mentors"`
}

// Validate checks the submitted fields
func (c Changes) Validate() error {
	if strings.TrimSpace(c.DateS) == "" {
		return fmt.Errorf("%w: date is required", ErrInvalidRecruit)
	}
	if _, err := time.Parse(DateLayout, c.DateS); err != nil {
		return fmt.Errorf("%w: date must look like 2025/01/31 19:00", ErrInvalidRecruit)
	}
	if strings.TrimSpace(c.Place) == "" {
		return fmt.Errorf("%w: place is required", ErrInvalidRecruit)
	}
	if c.MaxPeople < 1 {
		return fmt.Errorf("%w: max people must be at least 1", ErrInvalidRecruit)
	}
	if len(c.Participants) > c.MaxPeople {
		return fmt.Errorf("%w: %d participants exceed max people %d", ErrInvalidRecruit, len(c.Participants), c.MaxPeople)
	}
	return nil
}

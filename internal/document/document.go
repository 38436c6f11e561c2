package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-flow/internal/scanning"
)

// dateLayout is the calendar-day format used on the wire
const dateLayout = "2006-01-02"

// Status is the approval state of a document
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a status string
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Action is a status decision taken on a pending document
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// TransactionType optionally tags a document as income or expense
type TransactionType string

const (
	TransactionNone    TransactionType = ""
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

func (t TransactionType) valid() bool {
	switch t {
	case TransactionNone, TransactionIncome, TransactionExpense:
		return true
	}
	return false
}

// Identity is the authenticated caller as reported by the identity provider
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
}

// Document is a submitted receipt or expense record
type Document struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Vendor          string          `json:"vendor,omitempty"`
	Category        string          `json:"category,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"date"` // day the expense occurred, UTC midnight
	Status          Status          `json:"status"`
	TransactionType TransactionType `json:"transaction_type,omitempty"`
	UserID          string          `json:"user_id"`
	UserName        string          `json:"user_name,omitempty"`
	UserRole        Role            `json:"user_role"` // role held at submission time
	ImageRef        string          `json:"image_ref"`
	ThumbnailRef    string          `json:"thumbnail_ref,omitempty"`
	DecidedBy       string          `json:"decided_by,omitempty"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Fields are the user-confirmed values a document is submitted with
type Fields struct {
	Title           string          `json:"title"`
	Vendor          string          `json:"vendor"`
	Category        string          `json:"category"`
	Notes           string          `json:"notes"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"date"`
	TransactionType TransactionType `json:"transaction_type"`
}

// MarshalJSON writes Date as YYYY-MM-DD, the layout submissions accept
func (f Fields) MarshalJSON() ([]byte, error) {
	type alias Fields
	var date string
	if !f.Date.IsZero() {
		date = f.Date.Format(dateLayout)
	}
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(f), Date: date})
}

// UnmarshalJSON reads Date as YYYY-MM-DD; an empty date stays zero
func (f *Fields) UnmarshalJSON(data []byte) error {
	type alias Fields
	aux := struct {
		*alias
		Date string `json:"date"`
	}{alias: (*alias)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.Date = time.Time{}
	if aux.Date == "" {
		return nil
	}
	d, err := time.Parse(dateLayout, aux.Date)
	if err != nil {
		return &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	f.Date = d
	return nil
}

// Changes is a partial edit of a document's content fields. Nil fields are
// left untouched; status and ownership cannot be edited.
type Changes struct {
	Title           *string
	Vendor          *string
	Category        *string
	Notes           *string
	Amount          *decimal.Decimal
	Date            *time.Time
	TransactionType *TransactionType
}

// Filter narrows a document listing. Zero values mean "no constraint".
type Filter struct {
	Query  string
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
}

// Draft is the result of scanning an upload: stored images plus an editable
// pre-fill. Nothing is recorded until the draft is submitted.
type Draft struct {
	ImageRef     string                    `json:"image_ref"`
	ImageURL     string                    `json:"image_url"`
	ThumbnailRef string                    `json:"thumbnail_ref,omitempty"`
	OCRAvailable bool                      `json:"ocr_available"`
	Extraction   scanning.ExtractionResult `json:"extraction"`
	Fields       Fields                    `json:"fields"`
}

// Upload records who stored a scanned image, until a submission claims it.
// It is saved under both its image and thumbnail reference.
type Upload struct {
	ImageRef     string    `json:"image_ref"`
	ThumbnailRef string    `json:"thumbnail_ref,omitempty"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *Upload) refs() []string {
	if u.ThumbnailRef == "" {
		return []string{u.ImageRef}
	}
	return []string{u.ImageRef, u.ThumbnailRef}
}

// truncateDay drops the clock part of t, keeping the calendar date
func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (d *Document) clone() *Document {
	c := *d
	if d.DecidedAt != nil {
		t := *d.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

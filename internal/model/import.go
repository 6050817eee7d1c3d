// internal/model/import.go
package model

type ImportStrategy string

const (
	StrategySkip   ImportStrategy = "skip"
	StrategyUpsert ImportStrategy = "upsert"
)

type RowOutcome string

const (
	RowSuccess   RowOutcome = "success"
	RowDuplicate RowOutcome = "duplicate"
	RowUpdated   RowOutcome = "updated"
	RowError     RowOutcome = "error"
)

type FieldErrorCode string

const (
	MissingField  FieldErrorCode = "MissingField"
	FieldTooLong  FieldErrorCode = "FieldTooLong"
	InvalidFormat FieldErrorCode = "InvalidFormat"
	InvalidValue  FieldErrorCode = "InvalidValue"
	PersistFailed FieldErrorCode = "PersistFailed"
)

type FieldError struct {
	Field   string         `json:"field"`
	Code    FieldErrorCode `json:"code"`
	Message string         `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ContactRecord is one imported row after column mapping. Columns that do
// not map onto a field are dropped before this point.
type ContactRecord struct {
	Row             int      `json:"row"`
	PhoneNumber     string   `json:"phone_number"`
	NormalizedPhone string   `json:"normalized_phone" validate:"required"`
	Email           string   `json:"email"`
	FirstName       string   `json:"first_name" validate:"max=100"`
	LastName        string   `json:"last_name" validate:"max=100"`
	Company         string   `json:"company" validate:"max=200"`
	Status          string   `json:"status" validate:"omitempty,oneof=active inactive unsubscribed bounced"`
	Tags            []string `json:"tags,omitempty"`
}

type DuplicateMatch struct {
	Row             int      `json:"row"`
	PhoneNumber     string   `json:"phone_number"`
	ExistingContact *Contact `json:"existing_contact"`
}

type ImportRowResult struct {
	Row         int          `json:"row"`
	PhoneNumber string       `json:"phone_number"`
	Outcome     RowOutcome   `json:"outcome"`
	ContactID   int          `json:"contact_id,omitempty"`
	Errors      []FieldError `json:"errors,omitempty"`
}

type ImportReport struct {
	BatchID        string            `json:"batch_id"`
	Strategy       ImportStrategy    `json:"strategy"`
	TotalRows      int               `json:"total_rows"`
	NewCount       int               `json:"new_count"`
	UpdatedCount   int               `json:"updated_count"`
	DuplicateCount int               `json:"duplicate_count"`
	ErrorCount     int               `json:"error_count"`
	EnqueuedCount  int               `json:"enqueued_count"`
	IgnoredColumns []string          `json:"ignored_columns,omitempty"`
	Rows           []ImportRowResult `json:"rows"`
	// RowsOmitted counts per-row results dropped by Truncate.
	RowsOmitted int `json:"rows_omitted,omitempty"`
}

// Balanced reports whether every row landed in exactly one bucket.
func (r *ImportReport) Balanced() bool {
	return r.NewCount+r.UpdatedCount+r.DuplicateCount+r.ErrorCount == r.TotalRows &&
		len(r.Rows)+r.RowsOmitted == r.TotalRows
}

// Truncate keeps at most max per-row results, errors first, in row order.
// Counts are left untouched. max <= 0 keeps everything.
func (r *ImportReport) Truncate(max int) {
	if max <= 0 || len(r.Rows) <= max {
		return
	}
	keep := make([]bool, len(r.Rows))
	n := 0
	for _, errorsPass := range []bool{true, false} {
		for i, row := range r.Rows {
			if n < max && !keep[i] && (row.Outcome == RowError) == errorsPass {
				keep[i] = true
				n++
			}
		}
	}
	kept := make([]ImportRowResult, 0, max)
	for i, row := range r.Rows {
		if keep[i] {
			kept = append(kept, row)
		}
	}
	r.RowsOmitted += len(r.Rows) - len(kept)
	r.Rows = kept
}

// ImportPreview is the duplicate analysis of a batch without any write.
type ImportPreview struct {
	TotalRows      int               `json:"total_rows"`
	Matches        []DuplicateMatch  `json:"matches"`
	SupersededRows []int             `json:"superseded_rows"`
	Invalid        []ImportRowResult `json:"invalid"`
	IgnoredColumns []string          `json:"ignored_columns,omitempty"`
	ItemsOmitted   int               `json:"items_omitted,omitempty"`
}

// Truncate keeps at most max entries in each detail list.
func (p *ImportPreview) Truncate(max int) {
	var n int
	p.Matches, n = capItems(p.Matches, max)
	p.ItemsOmitted += n
	p.SupersededRows, n = capItems(p.SupersededRows, max)
	p.ItemsOmitted += n
	p.Invalid, n = capItems(p.Invalid, max)
	p.ItemsOmitted += n
}

// capItems returns at most max leading items and how many were dropped.
func capItems[T any](items []T, max int) ([]T, int) {
	if max <= 0 || len(items) <= max {
		return items, 0
	}
	return items[:max], len(items) - max
}

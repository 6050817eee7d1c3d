package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/logging"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/phone"
	"github.com/unclebandit/outreach-dispatch/internal/queue"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

// ImportOptions controls one import batch.
type ImportOptions struct {
	Strategy       model.ImportStrategy `json:"strategy"`
	ValidateEmails bool                 `json:"validate_emails"`
	// CampaignID, when set, enqueues new and updated contacts into that
	// campaign if it is active.
	CampaignID int `json:"campaign_id,omitempty"`
}

type ImportService struct {
	Store     repository.Store
	Campaigns *CampaignService
	Queue     queue.Queue
	Policy    phone.Policy
}

type columnAlias struct {
	name, field string
}

// columnAliases is in precedence order: when a row carries several
// aliases of one field, the first non-empty one wins.
var columnAliases = []columnAlias{
	{"phone_number", "phone_number"},
	{"phone", "phone_number"},
	{"mobile", "phone_number"},
	{"msisdn", "phone_number"},
	{"email", "email"},
	{"email_address", "email"},
	{"first_name", "first_name"},
	{"firstname", "first_name"},
	{"last_name", "last_name"},
	{"lastname", "last_name"},
	{"surname", "last_name"},
	{"company", "company"},
	{"organization", "company"},
	{"status", "status"},
	{"tags", "tags"},
}

// canonicalColumn returns the field a column maps to and its precedence,
// or "" and len(columnAliases) for an unknown column.
func canonicalColumn(name string) (string, int) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for i, a := range columnAliases {
		if a.name == name {
			return a.field, i
		}
	}
	return "", len(columnAliases)
}

// orderedColumns sorts a row's columns by alias precedence, then by name.
func orderedColumns(row map[string]string) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(a, b int) bool {
		_, ra := canonicalColumn(cols[a])
		_, rb := canonicalColumn(cols[b])
		if ra != rb {
			return ra < rb
		}
		return cols[a] < cols[b]
	})
	return cols
}

func fill(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

// MapRows turns raw tabular rows into contact records. Columns that match
// no field are dropped and returned sorted. Row numbers start at 1.
func MapRows(rows []map[string]string, policy phone.Policy) ([]model.ContactRecord, []string) {
	records := make([]model.ContactRecord, 0, len(rows))
	ignored := map[string]bool{}

	for i, row := range rows {
		rec := model.ContactRecord{Row: i + 1}
		for _, col := range orderedColumns(row) {
			value := strings.TrimSpace(row[col])
			field, _ := canonicalColumn(col)
			switch field {
			case "phone_number":
				fill(&rec.PhoneNumber, value)
			case "email":
				fill(&rec.Email, value)
			case "first_name":
				fill(&rec.FirstName, value)
			case "last_name":
				fill(&rec.LastName, value)
			case "company":
				fill(&rec.Company, value)
			case "status":
				fill(&rec.Status, strings.ToLower(value))
			case "tags":
				if len(rec.Tags) == 0 {
					rec.Tags = splitTags(value)
				}
			default:
				ignored[col] = true
			}
		}
		rec.NormalizedPhone = policy.Key(rec.PhoneNumber)
		records = append(records, rec)
	}

	cols := make([]string, 0, len(ignored))
	for col := range ignored {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return records, cols
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (o *ImportOptions) normalize() error {
	switch o.Strategy {
	case "":
		o.Strategy = model.StrategySkip
	case model.StrategySkip, model.StrategyUpsert:
	default:
		return fmt.Errorf("%w: %q", appErrors.ErrInvalidStrategy, o.Strategy)
	}
	return nil
}

// ImportBatch runs normalize, validate, dedupe and persist for every row.
// A failing row lands in the error bucket and never aborts the batch.
func (s *ImportService) ImportBatch(ctx context.Context, rows []map[string]string, opts ImportOptions) (*model.ImportReport, error) {
	if len(rows) == 0 {
		return nil, appErrors.ErrNoDataFound
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	enqueue, err := s.enqueueTarget(ctx, opts.CampaignID)
	if err != nil {
		return nil, err
	}

	records, ignored := MapRows(rows, s.Policy)
	report := &model.ImportReport{
		BatchID:        uuid.NewString(),
		Strategy:       opts.Strategy,
		TotalRows:      len(rows),
		IgnoredColumns: ignored,
		Rows:           make([]model.ImportRowResult, 0, len(rows)),
	}
	log := logrus.WithFields(logrus.Fields{"batch_id": report.BatchID, "strategy": opts.Strategy})

	for _, rec := range records {
		result := s.importRecord(ctx, rec, opts)
		switch result.Outcome {
		case model.RowSuccess:
			report.NewCount++
		case model.RowUpdated:
			report.UpdatedCount++
		case model.RowDuplicate:
			report.DuplicateCount++
		default:
			report.ErrorCount++
			log.WithField("row", rec.Row).WithField("errors", result.Errors).Debug("row rejected")
		}

		if enqueue && (result.Outcome == model.RowSuccess || result.Outcome == model.RowUpdated) {
			queued, err := s.Campaigns.EnqueueContact(ctx, opts.CampaignID, result.ContactID)
			if err != nil {
				log.WithError(err).WithField("contact_id", result.ContactID).Warn("failed to enqueue imported contact")
			} else if queued {
				report.EnqueuedCount++
			}
		}
		report.Rows = append(report.Rows, result)
	}

	logging.Event("import.completed", logrus.Fields{
		"batch_id":  report.BatchID,
		"total":     report.TotalRows,
		"new":       report.NewCount,
		"updated":   report.UpdatedCount,
		"duplicate": report.DuplicateCount,
		"errors":    report.ErrorCount,
		"enqueued":  report.EnqueuedCount,
	})
	queue.Emit(s.Queue, queue.TopicImportCompleted, queue.ImportCompletedEvent{
		BatchID:        report.BatchID,
		Strategy:       report.Strategy,
		TotalRows:      report.TotalRows,
		NewCount:       report.NewCount,
		UpdatedCount:   report.UpdatedCount,
		DuplicateCount: report.DuplicateCount,
		ErrorCount:     report.ErrorCount,
		EnqueuedCount:  report.EnqueuedCount,
	})
	return report, nil
}

func (s *ImportService) enqueueTarget(ctx context.Context, campaignID int) (bool, error) {
	if campaignID == 0 || s.Campaigns == nil {
		return false, nil
	}
	status, err := s.Store.Repos().Campaigns.GetStatus(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if status != model.CampaignStatusActive {
		logrus.WithFields(logrus.Fields{"campaign_id": campaignID, "status": status}).
			Info("campaign not active, imported contacts will not be enqueued")
		return false, nil
	}
	return true, nil
}

func (s *ImportService) importRecord(ctx context.Context, rec model.ContactRecord, opts ImportOptions) model.ImportRowResult {
	result := model.ImportRowResult{Row: rec.Row, PhoneNumber: rec.PhoneNumber}

	if errs := ValidateRecord(rec, ValidateOptions{ValidateEmails: opts.ValidateEmails}); len(errs) > 0 {
		result.Outcome = model.RowError
		result.Errors = errs
		return result
	}

	contacts := s.Store.Repos().Contacts
	existing, err := contacts.FindByNormalizedPhone(ctx, rec.NormalizedPhone)
	if err != nil {
		return persistFailed(result, err)
	}

	result.Outcome = Decide(opts.Strategy, existing)
	switch result.Outcome {
	case model.RowDuplicate:
		result.ContactID = existing.ID
		return result
	case model.RowUpdated:
		MergeRecord(existing, rec)
		if err := contacts.Upsert(ctx, existing); err != nil {
			return persistFailed(result, err)
		}
		result.ContactID = existing.ID
	default:
		c := NewContact(rec)
		if err := contacts.Upsert(ctx, c); err != nil {
			return persistFailed(result, err)
		}
		result.ContactID = c.ID
	}
	return result
}

func persistFailed(result model.ImportRowResult, err error) model.ImportRowResult {
	result.Outcome = model.RowError
	result.ContactID = 0
	result.Errors = []model.FieldError{{Code: model.PersistFailed, Message: err.Error()}}
	return result
}

// PreviewImport reports which rows would collide with stored contacts
// without writing anything.
func (s *ImportService) PreviewImport(ctx context.Context, rows []map[string]string, opts ImportOptions) (*model.ImportPreview, error) {
	if len(rows) == 0 {
		return nil, appErrors.ErrNoDataFound
	}
	records, ignored := MapRows(rows, s.Policy)

	existing, err := s.Store.Repos().Contacts.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	preview := &model.ImportPreview{
		TotalRows:      len(rows),
		IgnoredColumns: ignored,
		Invalid:        []model.ImportRowResult{},
	}
	valid := make([]model.ContactRecord, 0, len(records))
	for _, rec := range records {
		if errs := ValidateRecord(rec, ValidateOptions{ValidateEmails: opts.ValidateEmails}); len(errs) > 0 {
			preview.Invalid = append(preview.Invalid, model.ImportRowResult{
				Row: rec.Row, PhoneNumber: rec.PhoneNumber, Outcome: model.RowError, Errors: errs,
			})
			continue
		}
		valid = append(valid, rec)
	}
	preview.Matches = Resolve(valid, existing, s.Policy)
	preview.SupersededRows = Superseded(valid, s.Policy)
	return preview, nil
}

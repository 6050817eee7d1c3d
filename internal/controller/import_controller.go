package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

// ImportController accepts contact batches. MaxBodyBytes caps the request
// body and MaxReportItems the per-row detail returned; zero disables either.
type ImportController struct {
	ImportService  *service.ImportService
	MaxBodyBytes   int64
	MaxReportItems int
}

type importRequest struct {
	service.ImportOptions
	Rows []map[string]string `json:"rows"`
}

// readImport accepts either a JSON body with rows and options, or a CSV
// body with the options in the query string.
func (c *ImportController) readImport(w http.ResponseWriter, r *http.Request) (*importRequest, error) {
	if c.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, c.MaxBodyBytes)
	}
	req := &importRequest{}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
		if err := decodeBody(r, req); err != nil {
			return nil, err
		}
		return req, nil
	}

	q := r.URL.Query()
	req.Strategy = model.ImportStrategy(q.Get("strategy"))
	if v := q.Get("validate_emails"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid validate_emails %q", v)
		}
		req.ValidateEmails = b
	}
	if v := q.Get("campaign_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid campaign_id %q", v)
		}
		req.CampaignID = id
	}

	rows, err := service.ReadCSV(r.Body)
	if err != nil {
		return nil, err
	}
	req.Rows = rows
	return req, nil
}

func (c *ImportController) Import(w http.ResponseWriter, r *http.Request) {
	req, err := c.readImport(w, r)
	if err != nil {
		c.readFailed(w, r, err)
		return
	}

	report, err := c.ImportService.ImportBatch(r.Context(), req.Rows, req.ImportOptions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report.Truncate(c.MaxReportItems)
	writeJSON(w, http.StatusOK, report)
}

func (c *ImportController) Preview(w http.ResponseWriter, r *http.Request) {
	req, err := c.readImport(w, r)
	if err != nil {
		c.readFailed(w, r, err)
		return
	}

	preview, err := c.ImportService.PreviewImport(r.Context(), req.Rows, req.ImportOptions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	preview.Truncate(c.MaxReportItems)
	writeJSON(w, http.StatusOK, preview)
}

func (c *ImportController) readFailed(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case isNoData(err):
		writeError(w, r, err)
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
	default:
		badRequest(w, "invalid request: "+err.Error())
	}
}

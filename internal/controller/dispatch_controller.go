package controller

import (
	"net/http"
	"time"

	"github.com/unclebandit/outreach-dispatch/internal/service"
)

// DispatchController runs dispatch and sweep passes on demand.
// MaxReportItems caps the per-job outcomes returned; zero keeps all.
type DispatchController struct {
	Dispatcher     *service.Dispatcher
	Janitor        *service.Janitor
	BatchSize      int
	MaxReportItems int
}

func (c *DispatchController) Run(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MaxJobs int  `json:"max_jobs"`
		Sweep   bool `json:"sweep"`
	}
	if err := decodeBody(r, &body); err != nil || body.MaxJobs < 0 {
		badRequest(w, "invalid body")
		return
	}
	if body.MaxJobs == 0 {
		body.MaxJobs = c.BatchSize
	}

	resp := map[string]interface{}{}
	if body.Sweep && c.Janitor != nil {
		sweep, err := c.Janitor.SweepStale(r.Context(), time.Now())
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp["sweep"] = sweep
	}

	report, err := c.Dispatcher.DispatchBatch(r.Context(), body.MaxJobs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report.Truncate(c.MaxReportItems)
	resp["report"] = report
	writeJSON(w, http.StatusOK, resp)
}

// internal/model/dispatch.go
package model

import "time"

type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeRetrying  OutcomeStatus = "retrying"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeReleased  OutcomeStatus = "released"
	OutcomeLost      OutcomeStatus = "lost"
)

// FailureKind separates delivery failures from administrative stops in
// every report.
type FailureKind string

const (
	FailureTransport          FailureKind = "transport"
	FailureCampaignInactive   FailureKind = "campaign_inactive"
	FailureMissingReference   FailureKind = "missing_reference"
	FailureInvalidDestination FailureKind = "invalid_destination"
	FailureNoTransport        FailureKind = "no_transport"
)

type DispatchOutcome struct {
	JobID       int           `json:"job_id"`
	CampaignID  int           `json:"campaign_id"`
	ContactID   int           `json:"contact_id"`
	MessageID   int           `json:"message_id"`
	Destination string        `json:"destination,omitempty"`
	Status      OutcomeStatus `json:"status"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	ProviderID  string        `json:"provider_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	RetryCount  int           `json:"retry_count"`
}

type DispatchReport struct {
	RunID        string            `json:"run_id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Claimed      int               `json:"claimed"`
	Completed    int               `json:"completed"`
	Failed       int               `json:"failed"`
	Retried      int               `json:"retried"`
	AdminStopped int               `json:"admin_stopped"`
	Released     int               `json:"released"`
	Lost         int               `json:"lost"`
	Outcomes     []DispatchOutcome `json:"outcomes"`
	// OutcomesOmitted counts per-job outcomes dropped by Truncate.
	OutcomesOmitted int `json:"outcomes_omitted,omitempty"`
}

// Truncate keeps at most max outcomes, those not completed first, in
// processing order. Counters are left untouched. max <= 0 keeps everything.
func (r *DispatchReport) Truncate(max int) {
	if max <= 0 || len(r.Outcomes) <= max {
		return
	}
	keep := make([]bool, len(r.Outcomes))
	n := 0
	for _, pass := range []bool{false, true} {
		for i, o := range r.Outcomes {
			if n < max && !keep[i] && (o.Status == OutcomeCompleted) == pass {
				keep[i] = true
				n++
			}
		}
	}
	kept := make([]DispatchOutcome, 0, max)
	for i, o := range r.Outcomes {
		if keep[i] {
			kept = append(kept, o)
		}
	}
	r.OutcomesOmitted += len(r.Outcomes) - len(kept)
	r.Outcomes = kept
}

func (r *DispatchReport) Add(o DispatchOutcome) {
	switch o.Status {
	case OutcomeCompleted:
		r.Completed++
	case OutcomeRetrying:
		r.Retried++
	case OutcomeFailed:
		r.Failed++
		if o.FailureKind == FailureCampaignInactive {
			r.AdminStopped++
		}
	case OutcomeReleased:
		r.Released++
	case OutcomeLost:
		r.Lost++
	}
	r.Outcomes = append(r.Outcomes, o)
}

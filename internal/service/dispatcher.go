package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/logging"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/phone"
	"github.com/unclebandit/outreach-dispatch/internal/queue"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
	"github.com/unclebandit/outreach-dispatch/internal/transport"
)

const reasonCampaignNotActive = "campaign not active"

// Dispatcher claims pending jobs and drives each one to completion, retry
// or final failure. It keeps no state between batches.
type Dispatcher struct {
	Store      repository.Store
	Transports transport.Router
	Pacer      transport.Pacer
	Queue      queue.Queue
	Policy     phone.Policy
}

// DispatchBatch processes up to maxJobs pending jobs, highest priority and
// oldest first. Per-job problems end up in the report; only a missing
// transport configuration or a failing claim abort the run.
func (d *Dispatcher) DispatchBatch(ctx context.Context, maxJobs int) (*model.DispatchReport, error) {
	report := &model.DispatchReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Outcomes:  []model.DispatchOutcome{},
	}
	log := logrus.WithField("run_id", report.RunID)

	if d.Transports.Empty() {
		logging.ReportError("dispatch_config", appErrors.ErrTransportNotConfigured, logrus.Fields{"run_id": report.RunID})
		return nil, appErrors.ErrTransportNotConfigured
	}
	if maxJobs <= 0 {
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	jobs, err := d.Store.Repos().Jobs.ClaimNextBatch(ctx, maxJobs)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	report.Claimed = len(jobs)

	for i := range jobs {
		var out model.DispatchOutcome
		if ctx.Err() != nil {
			// shutting down: hand the claim back instead of waiting for the sweep
			out = d.release(context.WithoutCancel(ctx), &jobs[i], "", ctx.Err())
		} else {
			out = d.processJob(ctx, &jobs[i])
		}
		report.Add(out)
		d.logOutcome(log, out)
		queue.Emit(d.Queue, queue.TopicDispatchOutcome, out)
	}

	report.FinishedAt = time.Now().UTC()
	if report.Claimed > 0 {
		log.WithFields(logrus.Fields{
			"claimed":       report.Claimed,
			"completed":     report.Completed,
			"failed":        report.Failed,
			"retried":       report.Retried,
			"admin_stopped": report.AdminStopped,
			"released":      report.Released,
			"lost":          report.Lost,
		}).Info("dispatch batch finished")
	}
	return report, nil
}

func (d *Dispatcher) logOutcome(log *logrus.Entry, out model.DispatchOutcome) {
	entry := log.WithFields(logrus.Fields{
		"job_id":      out.JobID,
		"campaign_id": out.CampaignID,
		"contact_id":  out.ContactID,
		"status":      out.Status,
	})
	switch out.Status {
	case model.OutcomeCompleted:
		entry.WithField("provider_id", out.ProviderID).Info("job completed")
	case model.OutcomeRetrying:
		entry.WithField("retry_count", out.RetryCount).WithField("error", out.Error).Warn("job requeued")
	case model.OutcomeLost:
		entry.WithField("error", out.Error).Error("job outcome could not be recorded")
	default:
		entry.WithFields(logrus.Fields{"failure_kind": out.FailureKind, "error": out.Error}).Warn("job not sent")
	}
}

func baseOutcome(job *model.Job) model.DispatchOutcome {
	return model.DispatchOutcome{
		JobID:      job.ID,
		CampaignID: job.CampaignID,
		ContactID:  job.ContactID,
		MessageID:  job.MessageID,
		RetryCount: job.RetryCount,
	}
}

func (d *Dispatcher) processJob(ctx context.Context, job *model.Job) (out model.DispatchOutcome) {
	// state changes are written even when ctx is cancelled mid-send
	wctx := context.WithoutCancel(ctx)
	var (
		msg        *model.Message
		dest, body string
	)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while dispatching: %v", r)
			logging.ReportError("dispatch_panic", err, logrus.Fields{"job_id": job.ID})
			if msg == nil {
				out = d.finalize(wctx, job, nil, err, model.FailureTransport, true)
				return
			}
			out = d.sendFailed(wctx, job, msg, dest, body, err)
		}
	}()

	repos := d.Store.Repos()

	campaign, err := repos.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil {
		return d.loadFailed(wctx, job, nil, err, false)
	}
	msg, err = repos.Messages.GetByID(ctx, job.MessageID)
	if err != nil {
		return d.loadFailed(wctx, job, nil, err, true)
	}
	contact, err := repos.Contacts.GetByID(ctx, job.ContactID)
	if err != nil {
		return d.loadFailed(wctx, job, msg, err, true)
	}

	if msg.Status == model.MessageStatusSent || msg.Status == model.MessageStatusDelivered {
		// nothing left to send for this message
		return d.completeWithoutSend(wctx, job, msg)
	}
	if msg.Status == model.MessageStatusFailed {
		return d.finalize(wctx, job, msg, errors.New("message already failed"), model.FailureTransport, false)
	}

	if campaign.Status != model.CampaignStatusActive {
		return d.finalize(wctx, job, msg, errors.New(reasonCampaignNotActive), model.FailureCampaignInactive, false)
	}

	tr, ok := d.Transports.For(campaign.Channel)
	if !ok {
		return d.release(wctx, job, model.FailureNoTransport,
			fmt.Errorf("no transport configured for channel %s", campaign.Channel))
	}

	body = RenderTemplate(campaign.BaseTemplate, contact.MergeFields())
	dest = Destination(campaign.Channel, contact, d.Policy)
	if dest == "" {
		return d.finalize(wctx, job, msg, transport.ErrInvalidDestination, model.FailureInvalidDestination, true)
	}

	if d.Pacer != nil {
		if err := d.Pacer.Wait(ctx); err != nil {
			return d.release(wctx, job, "", err)
		}
	}

	res, err := tr.Send(ctx, dest, body)
	if err != nil {
		if errors.Is(err, transport.ErrInvalidDestination) {
			return d.finalize(wctx, job, msg, err, model.FailureInvalidDestination, true)
		}
		return d.sendFailed(wctx, job, msg, dest, body, err)
	}
	return d.sent(wctx, job, msg, dest, body, res)
}

// loadFailed handles a job whose campaign, message or contact could not be
// loaded. Missing rows fail the job for good; other errors hand it back.
func (d *Dispatcher) loadFailed(ctx context.Context, job *model.Job, msg *model.Message, err error, countFailure bool) model.DispatchOutcome {
	if !appErrors.IsNotFound(err) {
		return d.release(ctx, job, "", err)
	}
	return d.finalize(ctx, job, msg, err, model.FailureMissingReference, countFailure)
}

// finalize fails the job without retry. countFailure adds it to the
// campaign's failed_count unless the message was counted before.
func (d *Dispatcher) finalize(ctx context.Context, job *model.Job, msg *model.Message, cause error, kind model.FailureKind, countFailure bool) model.DispatchOutcome {
	out := baseOutcome(job)
	out.Status = model.OutcomeFailed
	out.FailureKind = kind
	out.Error = cause.Error()
	if msg != nil {
		out.Destination = msg.Destination
		countFailure = countFailure && !msg.FailureCounted
	}

	err := d.Store.WithinTx(ctx, func(r repository.Repositories) error {
		if err := r.Jobs.MarkFailed(ctx, job.ID, job.LeaseID, cause.Error()); err != nil {
			return err
		}
		if msg != nil && msg.Status == model.MessageStatusPending {
			err := r.Messages.UpdateStatus(ctx, msg.ID, model.MessageStatusFailed, model.MessageUpdate{
				Error:        cause.Error(),
				Event:        &model.ProviderEvent{Kind: "error", At: time.Now().UTC(), Error: cause.Error(), RetryCount: job.RetryCount},
				CountFailure: countFailure,
			})
			if err != nil && !appErrors.IsInvalidState(err) {
				return err
			}
		}
		if countFailure {
			return r.Campaigns.IncrementFailedCount(ctx, job.CampaignID)
		}
		return nil
	})
	if err != nil {
		return lost(out, err)
	}
	return out
}

// sendFailed records a provider failure and either requeues the job or
// fails it once the retry budget is spent.
func (d *Dispatcher) sendFailed(ctx context.Context, job *model.Job, msg *model.Message, dest, body string, cause error) model.DispatchOutcome {
	out := baseOutcome(job)
	out.Destination = dest
	out.Error = cause.Error()
	now := time.Now().UTC()
	retry := job.CanRetry()
	countFailure := !retry && !msg.FailureCounted

	err := d.Store.WithinTx(ctx, func(r repository.Repositories) error {
		var err error
		if retry {
			err = r.Jobs.Requeue(ctx, job.ID, job.LeaseID, job.RetryCount+1, cause.Error())
		} else {
			err = r.Jobs.MarkFailed(ctx, job.ID, job.LeaseID, cause.Error())
		}
		if err != nil {
			return err
		}

		err = r.Messages.UpdateStatus(ctx, msg.ID, model.MessageStatusFailed, model.MessageUpdate{
			Destination:  dest,
			Body:         body,
			Error:        cause.Error(),
			Event:        &model.ProviderEvent{Kind: "error", At: now, Error: cause.Error(), RetryCount: job.RetryCount},
			CountFailure: countFailure,
		})
		if err != nil {
			return err
		}
		if retry {
			_, err := r.Messages.ResetForRetry(ctx, msg.ID, model.ProviderEvent{Kind: "retry", At: now, Error: cause.Error()})
			return err
		}
		if countFailure {
			return r.Campaigns.IncrementFailedCount(ctx, job.CampaignID)
		}
		return nil
	})
	if err != nil {
		return lost(out, err)
	}

	if retry {
		out.Status = model.OutcomeRetrying
		out.RetryCount = job.RetryCount + 1
	} else {
		out.Status = model.OutcomeFailed
		out.FailureKind = model.FailureTransport
	}
	return out
}

// sent records an accepted send. A message already counted as failed is
// not counted again as sent.
func (d *Dispatcher) sent(ctx context.Context, job *model.Job, msg *model.Message, dest, body string, res transport.SendResult) model.DispatchOutcome {
	out := baseOutcome(job)
	out.Destination = dest
	out.ProviderID = res.ProviderID

	err := d.Store.WithinTx(ctx, func(r repository.Repositories) error {
		if err := r.Jobs.MarkCompleted(ctx, job.ID, job.LeaseID); err != nil {
			return err
		}
		err := r.Messages.UpdateStatus(ctx, msg.ID, model.MessageStatusSent, model.MessageUpdate{
			Destination:       dest,
			Body:              body,
			ProviderMessageID: res.ProviderID,
			Event: &model.ProviderEvent{
				Kind:       "send",
				At:         time.Now().UTC(),
				ProviderID: res.ProviderID,
				Raw:        res.Raw,
				RetryCount: job.RetryCount,
				Manual:     job.Manual,
			},
		})
		if err != nil {
			return err
		}
		if msg.FailureCounted {
			return nil
		}
		return r.Campaigns.IncrementSentCount(ctx, job.CampaignID)
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrJobNotClaimed) {
			logrus.WithFields(logrus.Fields{"job_id": job.ID, "message_id": msg.ID, "provider_id": res.ProviderID}).
				Warn("job lease lost during send; outcome discarded")
		}
		return lost(out, err)
	}
	out.Status = model.OutcomeCompleted
	return out
}

func (d *Dispatcher) completeWithoutSend(ctx context.Context, job *model.Job, msg *model.Message) model.DispatchOutcome {
	out := baseOutcome(job)
	out.Destination = msg.Destination
	out.ProviderID = msg.ProviderMessageID
	if err := d.Store.Repos().Jobs.MarkCompleted(ctx, job.ID, job.LeaseID); err != nil {
		return lost(out, err)
	}
	out.Status = model.OutcomeCompleted
	return out
}

// release returns the job to pending without touching its retry budget.
func (d *Dispatcher) release(ctx context.Context, job *model.Job, kind model.FailureKind, cause error) model.DispatchOutcome {
	out := baseOutcome(job)
	out.FailureKind = kind
	if cause != nil {
		out.Error = cause.Error()
	}
	if err := d.Store.Repos().Jobs.Release(ctx, job.ID, job.LeaseID); err != nil {
		return lost(out, err)
	}
	out.Status = model.OutcomeReleased
	return out
}

// lost marks an outcome whose state change could not be written. A job
// still held by this lease stays in processing until the stale sweep
// returns it to pending; a job whose lease moved on is left to its holder.
func lost(out model.DispatchOutcome, err error) model.DispatchOutcome {
	out.Status = model.OutcomeLost
	out.FailureKind = ""
	out.Error = err.Error()
	return out
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/phone"
	"github.com/unclebandit/outreach-dispatch/internal/service"
	"github.com/unclebandit/outreach-dispatch/internal/transport"
)

func TestDispatchSendsAndCountsOnce(t *testing.T) {
	f := newFixture(t)
	john := f.contact(t, "(555) 123-4567", "John")
	c := f.startedCampaign(t, "Hi {first_name}, {company} renews soon", 3, john)

	report := f.dispatch(t, 10)
	if report.Claimed != 1 || report.Completed != 1 {
		t.Fatalf("expected 1 claimed and completed, got %+v", report)
	}
	out := report.Outcomes[0]
	if out.Destination != "+15551234567" || out.ProviderID != "prov-1" {
		t.Errorf("unexpected outcome %+v", out)
	}

	msg := f.message(t, out.MessageID)
	if msg.Status != model.MessageStatusSent || msg.SentAt == nil {
		t.Errorf("expected sent message with sent_at, got %s", msg.Status)
	}
	if msg.Body != "Hi John, {company} renews soon" {
		t.Errorf("unexpected body %q", msg.Body)
	}
	if msg.ProviderMessageID != "prov-1" || len(msg.ProviderResponse) != 1 {
		t.Errorf("provider response not recorded: %+v", msg.ProviderResponse)
	}
	if j := f.job(t, out.JobID); j.Status != model.JobStatusCompleted || j.CompletedAt == nil {
		t.Errorf("expected completed job, got %s", j.Status)
	}
	if got := f.reload(t, c.ID); got.SentCount != 1 || got.FailedCount != 0 {
		t.Errorf("expected sent_count 1, got sent=%d failed=%d", got.SentCount, got.FailedCount)
	}

	if again := f.dispatch(t, 10); again.Claimed != 0 {
		t.Errorf("completed job was claimed again: %+v", again)
	}
}

func TestDispatchOrdersByPriorityThenAge(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, "hi", 3)
	if err := f.store.Repos().Campaigns.TransitionStatus(f.ctx, c.ID,
		[]model.CampaignStatus{model.CampaignStatusDraft}, model.CampaignStatusActive); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	phones := []string{"5550000001", "5550000002", "5550000003", "5550000004"}
	priorities := []int{1, 5, 5, 2}
	jobs := make([]*model.Job, len(phones))
	for i, p := range phones {
		contact := f.contact(t, p, "")
		jobs[i] = f.rawJob(t, c, contact, priorities[i], base.Add(time.Duration(i)*time.Minute))
	}

	report := f.dispatch(t, 4)

	want := []int{jobs[1].ID, jobs[2].ID, jobs[3].ID, jobs[0].ID}
	if len(report.Outcomes) != len(want) {
		t.Fatalf("expected %d outcomes, got %d", len(want), len(report.Outcomes))
	}
	for i, out := range report.Outcomes {
		if out.JobID != want[i] {
			t.Errorf("position %d: got job %d, want %d", i, out.JobID, want[i])
		}
	}
	sent := f.sms.calls()
	if sent[0] != "+15550000002" || sent[3] != "+15550000001" {
		t.Errorf("unexpected send order %v", sent)
	}
}

func TestDispatchCampaignNotActiveIsAdministrativeStop(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, "hi", 3)
	job := f.rawJob(t, c, f.contact(t, "5551112222", "Ann"), 0, time.Time{})

	report := f.dispatch(t, 10)

	out := report.Outcomes[0]
	if out.Status != model.OutcomeFailed || out.FailureKind != model.FailureCampaignInactive {
		t.Fatalf("expected administrative stop, got %+v", out)
	}
	if report.AdminStopped != 1 || report.Failed != 1 {
		t.Errorf("expected admin stop to be reported, got %+v", report)
	}
	j := f.job(t, job.ID)
	if j.Status != model.JobStatusFailed || j.ErrorMessage != "campaign not active" {
		t.Errorf("expected failed job with reason, got %s %q", j.Status, j.ErrorMessage)
	}
	if got := f.reload(t, c.ID); got.FailedCount != 0 {
		t.Errorf("administrative stop must not count as failure, failed_count=%d", got.FailedCount)
	}
	if len(f.sms.calls()) != 0 {
		t.Error("nothing should be sent for an inactive campaign")
	}
}

func TestDispatchExhaustedRetriesCountOnce(t *testing.T) {
	f := newFixture(t)
	f.sms.fail(errProviderDown)
	c := f.startedCampaign(t, "hi", 2, f.contact(t, "5553334444", "Bo"))

	var statuses []model.OutcomeStatus
	var jobID, msgID int
	for i := 0; i < 3; i++ {
		report := f.dispatch(t, 10)
		if report.Claimed != 1 {
			t.Fatalf("attempt %d: expected 1 claimed job, got %d", i+1, report.Claimed)
		}
		statuses = append(statuses, report.Outcomes[0].Status)
		jobID, msgID = report.Outcomes[0].JobID, report.Outcomes[0].MessageID
	}

	want := []model.OutcomeStatus{model.OutcomeRetrying, model.OutcomeRetrying, model.OutcomeFailed}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("attempt %d: got %s, want %s", i+1, statuses[i], want[i])
		}
	}

	j := f.job(t, jobID)
	if j.Status != model.JobStatusFailed || j.RetryCount != 2 {
		t.Errorf("expected failed job with retry_count 2, got %s/%d", j.Status, j.RetryCount)
	}
	msg := f.message(t, msgID)
	if msg.Status != model.MessageStatusFailed || msg.FailedAt == nil || msg.LastError == "" {
		t.Errorf("expected failed message, got %+v", msg)
	}
	if got := f.reload(t, c.ID); got.FailedCount != 1 || got.SentCount != 0 {
		t.Errorf("expected failed_count 1, got %d (sent %d)", got.FailedCount, got.SentCount)
	}
	if report := f.dispatch(t, 10); report.Claimed != 0 {
		t.Error("failed job must never return to pending")
	}
}

func TestDispatchRetryThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.sms.fail(errProviderDown)
	c := f.startedCampaign(t, "hi", 3, f.contact(t, "5553334444", "Bo"))

	first := f.dispatch(t, 10).Outcomes[0]
	if first.Status != model.OutcomeRetrying || first.RetryCount != 1 {
		t.Fatalf("expected retry, got %+v", first)
	}
	msg := f.message(t, first.MessageID)
	if msg.Status != model.MessageStatusPending || msg.RetryCount != 1 || msg.LastRetryAt == nil {
		t.Errorf("expected message back in pending with retry_count 1, got %+v", msg)
	}

	f.sms.fail(nil)
	second := f.dispatch(t, 10).Outcomes[0]
	if second.Status != model.OutcomeCompleted {
		t.Fatalf("expected completion, got %+v", second)
	}
	if got := f.reload(t, c.ID); got.SentCount != 1 || got.FailedCount != 0 {
		t.Errorf("unexpected counters sent=%d failed=%d", got.SentCount, got.FailedCount)
	}
	kinds := []string{}
	for _, e := range f.message(t, first.MessageID).ProviderResponse {
		kinds = append(kinds, e.Kind)
	}
	if len(kinds) != 3 || kinds[0] != "error" || kinds[1] != "retry" || kinds[2] != "send" {
		t.Errorf("unexpected audit trail %v", kinds)
	}
}

func TestDispatchPanicIsContainedToOneJob(t *testing.T) {
	f := newFixture(t)
	bad := f.contact(t, "5550000009", "Bad")
	good := f.contact(t, "5550000010", "Good")
	f.sms.panicFor = "+15550000009"
	f.startedCampaign(t, "hi", 0, bad, good)

	report := f.dispatch(t, 10)

	if report.Claimed != 2 || report.Completed != 1 || report.Failed != 1 {
		t.Fatalf("expected one completed and one failed job, got %+v", report)
	}
	for _, out := range report.Outcomes {
		if out.ContactID == bad.ID && out.FailureKind != model.FailureTransport {
			t.Errorf("panicking job should fail as a transport failure, got %+v", out)
		}
	}
}

func TestDispatchMissingContactFailsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	c := f.startedCampaign(t, "hi", 3)
	ghost := &model.Contact{ID: 999, Phone: "+15550009999"}
	job := f.rawJob(t, c, ghost, 0, time.Time{})

	out := f.dispatch(t, 10).Outcomes[0]

	if out.Status != model.OutcomeFailed || out.FailureKind != model.FailureMissingReference {
		t.Fatalf("expected missing reference failure, got %+v", out)
	}
	if j := f.job(t, job.ID); j.Status != model.JobStatusFailed || j.RetryCount != 0 {
		t.Errorf("expected failed job without retries, got %s/%d", j.Status, j.RetryCount)
	}
}

func TestDispatchInvalidDestination(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, "hi", 3)
	f.store.Repos().Campaigns.TransitionStatus(f.ctx, c.ID,
		[]model.CampaignStatus{model.CampaignStatusDraft}, model.CampaignStatusActive)
	noPhone := &model.Contact{FirstName: "Nobody", Status: model.ContactStatusActive}
	f.store.Repos().Contacts.Upsert(f.ctx, noPhone)
	f.rawJob(t, c, noPhone, 0, time.Time{})

	out := f.dispatch(t, 10).Outcomes[0]

	if out.FailureKind != model.FailureInvalidDestination {
		t.Fatalf("expected invalid destination, got %+v", out)
	}
	if got := f.reload(t, c.ID); got.FailedCount != 1 {
		t.Errorf("invalid destination counts as a delivery failure, failed_count=%d", got.FailedCount)
	}
}

func TestDispatchWithoutTransportAborts(t *testing.T) {
	f := newFixture(t)
	f.startedCampaign(t, "hi", 3, f.contact(t, "5551230000", "A"))
	f.dispatcher.Transports = transport.Router{}

	if _, err := f.dispatcher.DispatchBatch(f.ctx, 10); !errors.Is(err, appErrors.ErrTransportNotConfigured) {
		t.Fatalf("expected ErrTransportNotConfigured, got %v", err)
	}

	f.dispatcher.Transports = transport.Router{model.ChannelSMS: f.sms}
	if report := f.dispatch(t, 10); report.Claimed != 1 {
		t.Error("aborted run must not have claimed the job")
	}
}

func TestDispatchReleasesJobsOfUnconfiguredChannel(t *testing.T) {
	f := newFixture(t)
	c, err := f.campaigns.CreateCampaign(f.ctx, service.CreateCampaignInput{
		Name: "Email renewals", Channel: "email", BaseTemplate: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	contact := &model.Contact{Phone: "+15550001111", Email: "ann@example.com", Status: model.ContactStatusActive}
	f.store.Repos().Contacts.Upsert(f.ctx, contact)
	if _, err := f.campaigns.StartCampaign(f.ctx, c.ID, []int{contact.ID}); err != nil {
		t.Fatal(err)
	}

	report := f.dispatch(t, 10)

	out := report.Outcomes[0]
	if out.Status != model.OutcomeReleased || out.FailureKind != model.FailureNoTransport {
		t.Fatalf("expected released job, got %+v", out)
	}
	j := f.job(t, out.JobID)
	if j.Status != model.JobStatusPending || j.RetryCount != 0 {
		t.Errorf("released job must keep its retry budget, got %s/%d", j.Status, j.RetryCount)
	}
}

func TestConcurrentDispatchersNeverShareAJob(t *testing.T) {
	f := newFixture(t)
	contacts := []*model.Contact{}
	for i := 0; i < 40; i++ {
		contacts = append(contacts, f.contact(t, "55510000"+twoDigits(i), ""))
	}
	c := f.startedCampaign(t, "hi", 3, contacts...)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				report, err := f.dispatcher.DispatchBatch(context.Background(), 3)
				if err != nil || report.Claimed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	seen := map[string]int{}
	for _, to := range f.sms.calls() {
		seen[to]++
	}
	if len(seen) != 40 {
		t.Fatalf("expected 40 distinct destinations, got %d", len(seen))
	}
	for to, n := range seen {
		if n != 1 {
			t.Errorf("%s sent %d times", to, n)
		}
	}
	if got := f.reload(t, c.ID); got.SentCount != 40 {
		t.Errorf("expected sent_count 40, got %d", got.SentCount)
	}
}

func TestStaleJobIsReclaimedAndNotResent(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return t0 })
	c := f.startedCampaign(t, "hi", 3, f.contact(t, "5557778888", "Cy"))

	// a worker claims the job, sends, records the message and dies
	claimed, _ := f.store.Repos().Jobs.ClaimNextBatch(f.ctx, 1)
	if len(claimed) != 1 {
		t.Fatalf("expected to claim 1 job, got %d", len(claimed))
	}
	err := f.store.Repos().Messages.UpdateStatus(f.ctx, claimed[0].MessageID, model.MessageStatusSent,
		model.MessageUpdate{ProviderMessageID: "prov-old"})
	if err != nil {
		t.Fatal(err)
	}

	janitor := &service.Janitor{Store: f.store, Campaigns: f.campaigns, StaleAfter: 5 * time.Minute}
	res, err := janitor.SweepStale(f.ctx, t0.Add(time.Minute))
	if err != nil || res.Reclaimed != 0 {
		t.Fatalf("fresh claim must not be reclaimed: %+v %v", res, err)
	}
	res, err = janitor.SweepStale(f.ctx, t0.Add(10*time.Minute))
	if err != nil || res.Reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed job: %+v %v", res, err)
	}
	j := f.job(t, claimed[0].ID)
	if j.Status != model.JobStatusPending || j.RetryCount != 0 || j.StartedAt != nil {
		t.Errorf("unexpected reclaimed job %+v", j)
	}

	out := f.dispatch(t, 10).Outcomes[0]
	if out.Status != model.OutcomeCompleted || out.ProviderID != "prov-old" {
		t.Errorf("expected completion without resend, got %+v", out)
	}
	if len(f.sms.calls()) != 0 {
		t.Errorf("message was sent twice")
	}
	if got := f.reload(t, c.ID); got.SentCount != 0 {
		t.Errorf("sent_count must not be incremented again, got %d", got.SentCount)
	}
}

// slowWorker starts a dispatcher on a gated transport and waits until it
// is blocked inside Send with one claimed job.
func (f *fixture) slowWorker(t *testing.T) (*gatedTransport, <-chan *model.DispatchReport) {
	t.Helper()
	gate := newGatedTransport()
	slow := &service.Dispatcher{
		Store:      f.store,
		Transports: transport.Router{model.ChannelSMS: gate},
		Policy:     phone.DefaultPolicy,
	}
	done := make(chan *model.DispatchReport, 1)
	go func() {
		report, _ := slow.DispatchBatch(context.Background(), 1)
		done <- report
	}()
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("slow worker never reached the transport")
	}
	return gate, done
}

func TestStaleWorkerCannotOverwriteCurrentClaim(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return t0 })
	c := f.startedCampaign(t, "hi", 0, f.contact(t, "5557778888", "Cy"))

	gate, done := f.slowWorker(t)

	janitor := &service.Janitor{Store: f.store, Campaigns: f.campaigns, StaleAfter: 5 * time.Minute}
	if res, err := janitor.SweepStale(f.ctx, t0.Add(10*time.Minute)); err != nil || res.Reclaimed != 1 {
		t.Fatalf("expected the blocked claim to be reclaimed: %+v %v", res, err)
	}
	current := f.dispatch(t, 10).Outcomes[0]
	if current.Status != model.OutcomeCompleted {
		t.Fatalf("expected the current claim to complete, got %+v", current)
	}

	// the stale worker's provider call fails only now, with no retries left
	gate.result <- errProviderDown
	stale := (<-done).Outcomes[0]
	if stale.Status != model.OutcomeLost {
		t.Errorf("expected the stale outcome to be discarded, got %+v", stale)
	}

	if j := f.job(t, current.JobID); j.Status != model.JobStatusCompleted {
		t.Errorf("expected job completed, got %s", j.Status)
	}
	if m := f.message(t, current.MessageID); m.Status != model.MessageStatusSent || m.ProviderMessageID != current.ProviderID {
		t.Errorf("expected message sent by the current claim, got %+v", m)
	}
	if got := f.reload(t, c.ID); got.SentCount != 1 || got.FailedCount != 0 {
		t.Errorf("expected sent_count 1 and failed_count 0, got %d and %d", got.SentCount, got.FailedCount)
	}
}

func TestStaleWorkerSendLeavesJobToNextClaim(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return t0 })
	c := f.startedCampaign(t, "hi", 3, f.contact(t, "5557778888", "Cy"))

	gate, done := f.slowWorker(t)
	janitor := &service.Janitor{Store: f.store, Campaigns: f.campaigns, StaleAfter: 5 * time.Minute}
	if _, err := janitor.SweepStale(f.ctx, t0.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}

	gate.result <- nil
	stale := (<-done).Outcomes[0]
	if stale.Status != model.OutcomeLost {
		t.Fatalf("expected the stale send to be discarded, got %+v", stale)
	}
	if m := f.message(t, stale.MessageID); m.Status != model.MessageStatusPending {
		t.Errorf("stale worker wrote the message: %+v", m)
	}
	if got := f.reload(t, c.ID); got.SentCount != 0 {
		t.Errorf("stale worker counted a send: %d", got.SentCount)
	}

	out := f.dispatch(t, 10).Outcomes[0]
	if out.Status != model.OutcomeCompleted {
		t.Fatalf("expected the next claim to complete, got %+v", out)
	}
	if got := f.reload(t, c.ID); got.SentCount != 1 {
		t.Errorf("expected sent_count 1, got %d", got.SentCount)
	}
}

func TestDispatchUsesSharedPhonePolicy(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Policy = phone.Policy{DefaultCountryCode: "+44", NationalLength: 10}
	contact := &model.Contact{Phone: "07700900123", Status: model.ContactStatusActive}
	f.store.Repos().Contacts.Upsert(f.ctx, contact)
	c := f.campaign(t, "hi", 0)
	f.store.Repos().Campaigns.TransitionStatus(f.ctx, c.ID,
		[]model.CampaignStatus{model.CampaignStatusDraft}, model.CampaignStatusActive)
	f.rawJob(t, c, contact, 0, time.Time{})

	f.dispatch(t, 1)

	if sent := f.sms.calls(); len(sent) != 1 || sent[0] != "+447700900123" {
		t.Errorf("unexpected destination %v", sent)
	}
}

func twoDigits(i int) string {
	return string([]byte{byte('0' + i/10), byte('0' + i%10)})
}

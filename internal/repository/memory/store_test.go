package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
	"github.com/unclebandit/outreach-dispatch/internal/repository/memory"
)

func seedJobs(t *testing.T, s *memory.Store, n int) {
	t.Helper()
	ctx := context.Background()
	repos := s.Repos()
	c := &model.Campaign{Name: "c", Channel: model.ChannelSMS, MaxRetries: 2}
	if err := repos.Campaigns.Create(ctx, c); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		m := &model.Message{CampaignID: c.ID, ContactID: i + 1, Channel: model.ChannelSMS}
		if err := repos.Messages.Create(ctx, m); err != nil {
			t.Fatal(err)
		}
		if err := repos.Jobs.Enqueue(ctx, &model.Job{CampaignID: c.ID, ContactID: i + 1, MessageID: m.ID, MaxRetries: 2}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestClaimNextBatchIsExclusive(t *testing.T) {
	s := memory.New()
	seedJobs(t, s, 50)

	var mu sync.Mutex
	seen := map[int]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.Repos().Jobs.ClaimNextBatch(context.Background(), 3)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Fatalf("expected 50 claimed jobs, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %d claimed %d times", id, n)
		}
	}
}

func TestJobTransitionsRequireClaim(t *testing.T) {
	s := memory.New()
	seedJobs(t, s, 1)
	ctx := context.Background()
	jobs := s.Repos().Jobs

	if err := jobs.MarkCompleted(ctx, 1, ""); !errors.Is(err, appErrors.ErrJobNotClaimed) {
		t.Fatalf("expected ErrJobNotClaimed for pending job, got %v", err)
	}
	claimed, err := jobs.ClaimNextBatch(ctx, 1)
	if err != nil || len(claimed) != 1 || claimed[0].LeaseID == "" {
		t.Fatalf("expected one leased job, got %+v %v", claimed, err)
	}
	lease := claimed[0].LeaseID
	if err := jobs.Requeue(ctx, 1, lease, 3, "too far"); !errors.Is(err, appErrors.ErrJobNotClaimed) {
		t.Errorf("requeue past max_retries must be refused, got %v", err)
	}
	if err := jobs.Requeue(ctx, 1, lease, 1, "boom"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	j, _ := jobs.GetByID(ctx, 1)
	if j.Status != model.JobStatusPending || j.RetryCount != 1 || j.ErrorMessage != "boom" || j.LeaseID != "" {
		t.Errorf("unexpected requeued job %+v", j)
	}

	claimed, _ = jobs.ClaimNextBatch(ctx, 1)
	if claimed[0].LeaseID == lease {
		t.Fatalf("a new claim must get a new lease")
	}
	if err := jobs.MarkFailed(ctx, 1, claimed[0].LeaseID, "dead"); err != nil {
		t.Fatal(err)
	}
	if err := jobs.Release(ctx, 1, claimed[0].LeaseID); !errors.Is(err, appErrors.ErrJobNotClaimed) {
		t.Errorf("terminal job must not be released, got %v", err)
	}
}

func TestStaleLeaseCannotTransitionJob(t *testing.T) {
	s := memory.New()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return t0 })
	seedJobs(t, s, 1)
	ctx := context.Background()
	jobs := s.Repos().Jobs

	first, _ := jobs.ClaimNextBatch(ctx, 1)
	if n, _ := jobs.ReclaimStale(ctx, t0.Add(time.Second)); n != 1 {
		t.Fatalf("expected the claim to be reclaimed")
	}
	second, _ := jobs.ClaimNextBatch(ctx, 1)
	if len(second) != 1 {
		t.Fatalf("expected the job to be claimed again")
	}

	old := first[0].LeaseID
	for name, err := range map[string]error{
		"complete": jobs.MarkCompleted(ctx, 1, old),
		"fail":     jobs.MarkFailed(ctx, 1, old, "late"),
		"requeue":  jobs.Requeue(ctx, 1, old, 1, "late"),
		"release":  jobs.Release(ctx, 1, old),
	} {
		if !errors.Is(err, appErrors.ErrJobNotClaimed) {
			t.Errorf("%s with a stale lease: expected ErrJobNotClaimed, got %v", name, err)
		}
	}
	if j, _ := jobs.GetByID(ctx, 1); j.Status != model.JobStatusProcessing || j.LeaseID != second[0].LeaseID {
		t.Errorf("current claim was disturbed: %+v", j)
	}
	if err := jobs.MarkCompleted(ctx, 1, second[0].LeaseID); err != nil {
		t.Errorf("current lease must complete the job: %v", err)
	}
}

func TestMessageStatusIsMonotonic(t *testing.T) {
	s := memory.New()
	seedJobs(t, s, 1)
	ctx := context.Background()
	msgs := s.Repos().Messages

	if err := msgs.UpdateStatus(ctx, 1, model.MessageStatusDelivered, model.MessageUpdate{}); !appErrors.IsInvalidState(err) {
		t.Errorf("pending->delivered must be refused, got %v", err)
	}
	if _, err := msgs.ResetForRetry(ctx, 1, model.ProviderEvent{Kind: "retry"}); !appErrors.IsInvalidState(err) {
		t.Errorf("only failed messages reset, got %v", err)
	}
	if err := msgs.UpdateStatus(ctx, 1, model.MessageStatusFailed, model.MessageUpdate{
		Error: "down", Event: &model.ProviderEvent{Kind: "error", Error: "down"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := msgs.UpdateStatus(ctx, 1, model.MessageStatusSent, model.MessageUpdate{}); !appErrors.IsInvalidState(err) {
		t.Errorf("failed->sent must go through a retry reset, got %v", err)
	}
	m, err := msgs.ResetForRetry(ctx, 1, model.ProviderEvent{Kind: "retry"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != model.MessageStatusPending || m.RetryCount != 1 || m.FailedAt != nil || len(m.ProviderResponse) != 2 {
		t.Errorf("unexpected reset message %+v", m)
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(r repository.Repositories) error {
		if err := r.Campaigns.Create(ctx, &model.Campaign{Name: "gone", Channel: model.ChannelSMS}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := s.Repos().Campaigns.GetByID(ctx, 1); !appErrors.IsNotFound(err) {
		t.Errorf("campaign survived rollback: %v", err)
	}
}

func TestReclaimStaleKeepsRetryCount(t *testing.T) {
	s := memory.New()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return t0 })
	seedJobs(t, s, 2)
	ctx := context.Background()
	jobs := s.Repos().Jobs

	first, _ := jobs.ClaimNextBatch(ctx, 1)
	jobs.Requeue(ctx, 1, first[0].LeaseID, 1, "x")
	jobs.ClaimNextBatch(ctx, 2)

	n, err := jobs.ReclaimStale(ctx, t0.Add(time.Second))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 reclaimed, got %d %v", n, err)
	}
	j, _ := jobs.GetByID(ctx, 1)
	if j.Status != model.JobStatusPending || j.RetryCount != 1 || j.LeaseID != "" {
		t.Errorf("unexpected reclaimed job %+v", j)
	}
}

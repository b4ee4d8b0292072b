package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/drip-campaign-backend/internal/db"
	appErrors "github.com/unclebandit/drip-campaign-backend/internal/errors"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
	"github.com/unclebandit/drip-campaign-backend/internal/repository"
	"github.com/unclebandit/drip-campaign-backend/internal/testutil"
)

func newPostgresStepService(t *testing.T) *SequenceStepService {
	conn := testutil.DB(t)
	log := testutil.Logger(t)
	return NewSequenceStepService(
		db.NewTransactor(conn),
		repository.NewCampaignRepository(conn, log),
		repository.NewSequenceStepRepository(conn, log),
		log,
	)
}

func TestPostgresStepSession(t *testing.T) {
	svc := newPostgresStepService(t)
	conn := testutil.DB(t)
	ctx := context.Background()
	userID := testutil.UserID()
	campaignID := testutil.CreateCampaign(t, conn, userID, "draft")

	steps, err := svc.CreateSteps(ctx, userID, campaignID, subjects(3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, b, c := steps[0].ID, steps[1].ID, steps[2].ID

	if steps, err = svc.Reorder(ctx, userID, campaignID, []int64{c, a}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := stepSubjects(steps); got != "CAB" {
		t.Fatalf("expected CAB, got %s", got)
	}
	if _, err := svc.DeleteStep(ctx, userID, campaignID, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	steps, _ = svc.ListSteps(ctx, userID, campaignID)
	if got := stepSubjects(steps); got != "CB" || steps[0].StepIndex != 0 || steps[1].StepIndex != 1 {
		t.Fatalf("expected dense CB, got %s", got)
	}

	testutil.SetCampaignStatus(t, conn, campaignID, "running")
	if _, err := svc.Reorder(ctx, userID, campaignID, []int64{b}); appErrors.CodeOf(err) != appErrors.CodeCampaignRunning {
		t.Fatalf("expected running guard, got %v", err)
	}
	if _, err := svc.CreateSteps(ctx, userID+1, campaignID, subjects(1)); appErrors.CodeOf(err) != appErrors.CodeCampaignNotFound {
		t.Fatalf("expected not found for another tenant, got %v", err)
	}
}

func TestPostgresConcurrentEditors(t *testing.T) {
	svc := newPostgresStepService(t)
	conn := testutil.DB(t)
	ctx := context.Background()
	userID := testutil.UserID()
	campaignID := testutil.CreateCampaign(t, conn, userID, "draft")

	created, err := svc.CreateSteps(ctx, userID, campaignID, subjects(4))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateStep(ctx, userID, campaignID, model.StepInput{SubjectTemplate: "x"}); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Reorder(ctx, userID, campaignID, []int64{created[i%4].ID}); err != nil {
				t.Errorf("reorder: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := svc.Reorder(ctx, userID, campaignID, nil); err != nil {
				t.Errorf("repack: %v", err)
			}
		}()
	}
	wg.Wait()

	steps, err := svc.ListSteps(ctx, userID, campaignID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(steps) != 14 {
		t.Fatalf("expected 14 steps, got %d", len(steps))
	}
	for i, s := range steps {
		if s.StepIndex != i {
			t.Fatalf("index gap at %d: %d", i, s.StepIndex)
		}
	}
}

func TestPostgresJobQueueRetry(t *testing.T) {
	conn := testutil.DB(t)
	log := testutil.Logger(t)
	q := NewJobQueue(db.NewTransactor(conn), repository.NewJobRepository(conn, log), nil, log)
	ctx := context.Background()
	name := "test-" + uuid.NewString()
	key := model.IdempotencyKey(name, "send", "1")

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, name, sendPayload{CampaignID: 1}, model.EnqueueOptions{IdempotencyKey: key}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	job, err := q.FetchNext(ctx, name)
	if err != nil || job == nil {
		t.Fatalf("fetch: %v %v", job, err)
	}
	if next, _ := q.FetchNext(ctx, name); next != nil {
		t.Fatal("expected the deduplicated key to yield a single job")
	}

	if err := q.Fail(ctx, job.ID, 1, context.DeadlineExceeded); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if again, _ := q.FetchNext(ctx, name); again != nil {
		t.Fatal("expected job hidden during backoff")
	}

	time.Sleep(1100 * time.Millisecond)
	again, err := q.FetchNext(ctx, name)
	if err != nil || again == nil || again.ID != job.ID || again.Attempts != 1 {
		t.Fatalf("expected retry of %s, got %+v %v", job.ID, again, err)
	}
	if err := q.Complete(ctx, again.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

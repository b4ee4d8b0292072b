package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/drip-campaign-backend/internal/dbctx"
	appErrors "github.com/unclebandit/drip-campaign-backend/internal/errors"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
)

// memStore holds campaigns and steps in memory. fakeTx serialises
// transactions on mu and restores a snapshot when fn fails, which is what
// the campaign row lock and rollback give us in Postgres.
type memStore struct {
	mu        sync.Mutex
	campaigns map[int64]*model.Campaign
	steps     map[int64]*model.SequenceStep
	nextStep  int64

	txCount     int
	updateCalls int
	failInsert  error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[int64]*model.Campaign{},
		steps:     map[int64]*model.SequenceStep{},
		nextStep:  100,
	}
}

func (m *memStore) addCampaign(id, userID int64, status model.CampaignStatus) {
	m.campaigns[id] = &model.Campaign{ID: id, UserID: userID, Status: status}
}

func (m *memStore) snapshot() map[int64]model.SequenceStep {
	out := make(map[int64]model.SequenceStep, len(m.steps))
	for id, s := range m.steps {
		out[id] = *s
	}
	return out
}

func (m *memStore) restore(snap map[int64]model.SequenceStep) {
	m.steps = make(map[int64]*model.SequenceStep, len(snap))
	for id, s := range snap {
		s := s
		m.steps[id] = &s
	}
}

func (m *memStore) campaignSteps(campaignID int64) []*model.SequenceStep {
	out := []*model.SequenceStep{}
	for _, s := range m.steps {
		if s.CampaignID == campaignID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out
}

func copySteps(in []*model.SequenceStep) []*model.SequenceStep {
	out := make([]*model.SequenceStep, len(in))
	for i, s := range in {
		c := *s
		out[i] = &c
	}
	return out
}

type fakeTx struct{ store *memStore }

func (f fakeTx) WithTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.txCount++
	snap := f.store.snapshot()
	if err := fn(dbctx.Context{Ctx: ctx}); err != nil {
		f.store.restore(snap)
		return err
	}
	return nil
}

// The repositories below run under fakeTx, which already holds mu.

type fakeCampaignRepo struct{ store *memStore }

func (r fakeCampaignRepo) LockForUpdate(dbc dbctx.Context, campaignID, userID int64) (*model.Campaign, error) {
	c, ok := r.store.campaigns[campaignID]
	if !ok || c.UserID != userID {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}
	cc := *c
	return &cc, nil
}

func (r fakeCampaignRepo) Create(dbc dbctx.Context, c *model.Campaign) error {
	r.store.campaigns[c.ID] = c
	return nil
}

func (r fakeCampaignRepo) GetByID(dbc dbctx.Context, id int64) (*model.Campaign, error) {
	c, ok := r.store.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (r fakeCampaignRepo) UpdateStatus(dbc dbctx.Context, id int64, status model.CampaignStatus) error {
	c, ok := r.store.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

type fakeStepRepo struct{ store *memStore }

// ListByOwner is called without a transaction, so it locks on its own.
func (r fakeStepRepo) ListByOwner(dbc dbctx.Context, userID, campaignID int64) ([]*model.SequenceStep, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.campaigns[campaignID]
	if !ok || c.UserID != userID {
		return []*model.SequenceStep{}, nil
	}
	return copySteps(r.store.campaignSteps(campaignID)), nil
}

func (r fakeStepRepo) ListByCampaign(dbc dbctx.Context, campaignID int64) ([]*model.SequenceStep, error) {
	return copySteps(r.store.campaignSteps(campaignID)), nil
}

func (r fakeStepRepo) MaxIndex(dbc dbctx.Context, campaignID int64) (int, error) {
	max := -1
	for _, s := range r.store.campaignSteps(campaignID) {
		if s.StepIndex > max {
			max = s.StepIndex
		}
	}
	return max, nil
}

func (r fakeStepRepo) InsertBatch(dbc dbctx.Context, campaignID int64, start int, inputs []model.StepInput) ([]*model.SequenceStep, error) {
	out := []*model.SequenceStep{}
	now := time.Now().UTC()
	for i, in := range inputs {
		if r.store.failInsert != nil && i == len(inputs)-1 {
			return nil, r.store.failInsert
		}
		r.store.nextStep++
		s := &model.SequenceStep{
			ID:                 r.store.nextStep,
			CampaignID:         campaignID,
			StepIndex:          start + i,
			DelayHours:         in.DelayHours,
			FromEmailAccountID: in.FromEmailAccountID,
			SubjectTemplate:    in.SubjectTemplate,
			BodyTemplate:       in.BodyTemplate,
			PromptKey:          in.PromptKey,
			Enabled:            in.IsEnabled(),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		r.store.steps[s.ID] = s
		out = append(out, s)
	}
	return copySteps(out), nil
}

func (r fakeStepRepo) GetByID(dbc dbctx.Context, campaignID, stepID int64) (*model.SequenceStep, error) {
	s, ok := r.store.steps[stepID]
	if !ok || s.CampaignID != campaignID {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r fakeStepRepo) Update(dbc dbctx.Context, campaignID, stepID int64, patch model.StepPatch) (*model.SequenceStep, error) {
	r.store.updateCalls++
	s, ok := r.store.steps[stepID]
	if !ok || s.CampaignID != campaignID {
		return nil, nil
	}
	updated := patch.Apply(*s)
	updated.UpdatedAt = time.Now().UTC()
	*s = updated
	return &updated, nil
}

func (r fakeStepRepo) Delete(dbc dbctx.Context, campaignID, stepID int64) (bool, error) {
	s, ok := r.store.steps[stepID]
	if !ok || s.CampaignID != campaignID {
		return false, nil
	}
	delete(r.store.steps, stepID)
	return true, nil
}

func (r fakeStepRepo) ListIDs(dbc dbctx.Context, campaignID int64) ([]int64, error) {
	ids := []int64{}
	for _, s := range r.store.campaignSteps(campaignID) {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (r fakeStepRepo) ApplyOrder(dbc dbctx.Context, campaignID int64, orderedIDs []int64) error {
	for i, id := range orderedIDs {
		s, ok := r.store.steps[id]
		if !ok || s.CampaignID != campaignID {
			return errors.New("apply order: unknown id")
		}
		s.StepIndex = i
	}
	return nil
}

func (r fakeStepRepo) Repack(dbc dbctx.Context, campaignID int64) error {
	for i, s := range r.store.campaignSteps(campaignID) {
		s.StepIndex = i
	}
	return nil
}

// ====================== Jobs ======================

// memJobs is an in-memory jobs table with a settable clock.
type memJobs struct {
	mu   sync.Mutex
	now  time.Time
	jobs map[uuid.UUID]*model.Job
}

func newMemJobs() *memJobs {
	return &memJobs{
		now:  time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
		jobs: map[uuid.UUID]*model.Job{},
	}
}

func (m *memJobs) advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *memJobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *memJobs) Insert(dbc dbctx.Context, job *model.Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.IdempotencyKey != nil {
		for _, j := range m.jobs {
			if j.IdempotencyKey != nil && *j.IdempotencyKey == *job.IdempotencyKey {
				return false, nil
			}
		}
	}
	if job.RunAt.IsZero() {
		job.RunAt = m.now
	}
	job.Status = model.JobPending
	job.CreatedAt = m.now
	job.UpdatedAt = m.now
	c := *job
	m.jobs[job.ID] = &c
	return true, nil
}

func (m *memJobs) ClaimNextEligible(dbc dbctx.Context, queueName string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *model.Job
	for _, j := range m.jobs {
		if j.Queue != queueName || j.Status != model.JobPending || j.RunAt.After(m.now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	next.Status = model.JobRunning
	c := *next
	return &c, nil
}

func (m *memJobs) Complete(dbc dbctx.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = model.JobCompleted
	}
	return nil
}

func (m *memJobs) Reschedule(dbc dbctx.Context, id uuid.UUID, backoff time.Duration, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = model.JobPending
		j.Attempts++
		j.RunAt = m.now.Add(backoff)
		if lastError != nil {
			j.LastError = lastError
		}
	}
	return nil
}

func (m *memJobs) GetByID(dbc dbctx.Context, id uuid.UUID) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	c := *j
	return &c, nil
}

func (m *memJobs) GetByIdempotencyKey(dbc dbctx.Context, key string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.IdempotencyKey != nil && *j.IdempotencyKey == key {
			c := *j
			return &c, nil
		}
	}
	return nil, nil
}

// passTx runs fn without any transaction semantics.
type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return fn(dbctx.Context{Ctx: ctx})
}

// recordingNotifier remembers every Notify call.
type recordingNotifier struct {
	mu     sync.Mutex
	queues []string
}

func (n *recordingNotifier) Notify(q string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queues = append(n.queues, q)
	return nil
}

func (n *recordingNotifier) Subscribe(context.Context, func(string)) error { return nil }
func (n *recordingNotifier) Close() error                                  { return nil }

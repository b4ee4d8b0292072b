package service

import (
	"context"
	"fmt"

	"github.com/unclebandit/drip-campaign-backend/internal/dbctx"
	appErrors "github.com/unclebandit/drip-campaign-backend/internal/errors"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
	"github.com/unclebandit/drip-campaign-backend/internal/repository"
)

// Transactor runs fn in a transaction: commit when fn returns nil, roll
// back and return the error otherwise. *db.Transactor implements it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type SequenceStepServiceInterface interface {
	ListSteps(ctx context.Context, userID, campaignID int64) ([]*model.SequenceStep, error)
	CreateSteps(ctx context.Context, userID, campaignID int64, inputs []model.StepInput) ([]*model.SequenceStep, error)
	UpdateStep(ctx context.Context, userID, campaignID, stepID int64, patch model.StepPatch) (*model.SequenceStep, error)
	DeleteStep(ctx context.Context, userID, campaignID, stepID int64) (bool, error)
	Reorder(ctx context.Context, userID, campaignID int64, stepIDs []int64) ([]*model.SequenceStep, error)
}

// SequenceStepService owns the ordered steps of a campaign. Every mutation
// locks the campaign row first, so editors of one campaign are serialised
// and the step indices stay exactly 0..n-1 at every commit.
type SequenceStepService struct {
	Tx        Transactor
	Campaigns repository.CampaignRepositoryInterface
	Steps     repository.SequenceStepRepositoryInterface
	log       *logger.Logger
}

func NewSequenceStepService(tx Transactor, campaigns repository.CampaignRepositoryInterface, steps repository.SequenceStepRepositoryInterface, baseLog *logger.Logger) *SequenceStepService {
	return &SequenceStepService{
		Tx:        tx,
		Campaigns: campaigns,
		Steps:     steps,
		log:       baseLog.With("service", "SequenceStepService"),
	}
}

// ListSteps returns the campaign's steps in index order. It takes no lock;
// a campaign the user does not own simply has no visible steps.
func (s *SequenceStepService) ListSteps(ctx context.Context, userID, campaignID int64) ([]*model.SequenceStep, error) {
	steps, err := s.Steps.ListByOwner(dbctx.Context{Ctx: ctx}, userID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return steps, nil
}

// withCampaignLock opens a transaction, locks the campaign owned by userID
// and rejects running campaigns before handing over to fn.
func (s *SequenceStepService) withCampaignLock(ctx context.Context, userID, campaignID int64, fn func(dbc dbctx.Context) error) error {
	return s.Tx.WithTx(ctx, func(dbc dbctx.Context) error {
		campaign, err := s.Campaigns.LockForUpdate(dbc, campaignID, userID)
		if err != nil {
			return err
		}
		if campaign.Status == model.CampaignRunning {
			return appErrors.NewCampaignRunning(campaignID)
		}
		return fn(dbc)
	})
}

// CreateSteps appends inputs after the current last step, in input order.
func (s *SequenceStepService) CreateSteps(ctx context.Context, userID, campaignID int64, inputs []model.StepInput) ([]*model.SequenceStep, error) {
	for i, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	var created []*model.SequenceStep
	err := s.withCampaignLock(ctx, userID, campaignID, func(dbc dbctx.Context) error {
		max, err := s.Steps.MaxIndex(dbc, campaignID)
		if err != nil {
			return fmt.Errorf("max step index: %w", err)
		}
		created, err = s.Steps.InsertBatch(dbc, campaignID, max+1, inputs)
		if err != nil {
			return fmt.Errorf("insert steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Steps created", "campaign_id", campaignID, "user_id", userID, "count", len(created))
	return created, nil
}

// CreateStep is CreateSteps for a single step.
func (s *SequenceStepService) CreateStep(ctx context.Context, userID, campaignID int64, input model.StepInput) (*model.SequenceStep, error) {
	created, err := s.CreateSteps(ctx, userID, campaignID, []model.StepInput{input})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// UpdateStep applies a partial patch. It returns nil, nil when the step
// does not exist under the campaign. An empty patch returns the stored row
// without writing.
func (s *SequenceStepService) UpdateStep(ctx context.Context, userID, campaignID, stepID int64, patch model.StepPatch) (*model.SequenceStep, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var step *model.SequenceStep
	err := s.withCampaignLock(ctx, userID, campaignID, func(dbc dbctx.Context) error {
		var err error
		if patch.IsEmpty() {
			step, err = s.Steps.GetByID(dbc, campaignID, stepID)
		} else {
			step, err = s.Steps.Update(dbc, campaignID, stepID, patch)
		}
		if err != nil {
			return fmt.Errorf("update step %d: %w", stepID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// DeleteStep removes the step and closes the gap it leaves, all in one
// transaction. It returns false when there was nothing to delete.
func (s *SequenceStepService) DeleteStep(ctx context.Context, userID, campaignID, stepID int64) (bool, error) {
	var deleted bool
	err := s.withCampaignLock(ctx, userID, campaignID, func(dbc dbctx.Context) error {
		var err error
		deleted, err = s.Steps.Delete(dbc, campaignID, stepID)
		if err != nil {
			return fmt.Errorf("delete step %d: %w", stepID, err)
		}
		if !deleted {
			return nil
		}
		if err := s.Steps.Repack(dbc, campaignID); err != nil {
			return fmt.Errorf("repack steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.log.Debug("Step deleted", "campaign_id", campaignID, "user_id", userID, "step_id", stepID)
	}
	return deleted, nil
}

// Reorder moves stepIDs to the front of the sequence in the given order.
// Steps not named keep their relative order after them. An empty list only
// repacks.
func (s *SequenceStepService) Reorder(ctx context.Context, userID, campaignID int64, stepIDs []int64) ([]*model.SequenceStep, error) {
	if dup, ok := firstDuplicate(stepIDs); ok {
		return nil, appErrors.NewValidation("step_ids", fmt.Sprintf("duplicate step id %d", dup))
	}

	var steps []*model.SequenceStep
	err := s.withCampaignLock(ctx, userID, campaignID, func(dbc dbctx.Context) error {
		current, err := s.Steps.ListIDs(dbc, campaignID)
		if err != nil {
			return fmt.Errorf("list step ids: %w", err)
		}
		order, unknown := planOrder(current, stepIDs)
		if len(unknown) > 0 {
			return appErrors.NewInvalidStepIDs(campaignID, unknown)
		}
		if err := s.Steps.ApplyOrder(dbc, campaignID, order); err != nil {
			return fmt.Errorf("apply order: %w", err)
		}
		steps, err = s.Steps.ListByCampaign(dbc, campaignID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Steps reordered", "campaign_id", campaignID, "user_id", userID, "requested", len(stepIDs), "total", len(steps))
	return steps, nil
}

// planOrder returns the final id order for a reorder: requested ids first,
// then the remaining ids of current in their existing order. unknown holds
// every requested id that is not in current, in request order.
func planOrder(current, requested []int64) (order, unknown []int64) {
	members := make(map[int64]bool, len(current))
	for _, id := range current {
		members[id] = true
	}
	named := make(map[int64]bool, len(requested))
	for _, id := range requested {
		if !members[id] {
			unknown = append(unknown, id)
			continue
		}
		named[id] = true
	}
	if len(unknown) > 0 {
		return nil, unknown
	}

	order = make([]int64, 0, len(current))
	order = append(order, requested...)
	for _, id := range current {
		if !named[id] {
			order = append(order, id)
		}
	}
	return order, nil
}

func firstDuplicate(ids []int64) (int64, bool) {
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id, true
		}
		seen[id] = true
	}
	return 0, false
}

var _ SequenceStepServiceInterface = (*SequenceStepService)(nil)

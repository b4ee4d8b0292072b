package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/unclebandit/drip-campaign-backend/internal/dbctx"
	appErrors "github.com/unclebandit/drip-campaign-backend/internal/errors"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
)

var errLockOutsideTx = errors.New("campaign row lock requires an open transaction")

type CampaignRepositoryInterface interface {
	// LockForUpdate takes an exclusive row lock on the campaign owned by
	// userID for the rest of the caller's transaction. It returns
	// ErrCampaignNotFound when the id does not exist or belongs to someone
	// else; the two cases are not distinguished.
	LockForUpdate(dbc dbctx.Context, campaignID, userID int64) (*model.Campaign, error)

	Create(dbc dbctx.Context, c *model.Campaign) error
	GetByID(dbc dbctx.Context, id int64) (*model.Campaign, error)
	UpdateStatus(dbc dbctx.Context, campaignID int64, status model.CampaignStatus) error
}

type CampaignRepository struct {
	DB  *sql.DB
	log *logger.Logger
}

func NewCampaignRepository(db *sql.DB, baseLog *logger.Logger) *CampaignRepository {
	return &CampaignRepository{DB: db, log: baseLog.With("repo", "CampaignRepository")}
}

const campaignColumns = `id, user_id, name, status, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) LockForUpdate(dbc dbctx.Context, campaignID, userID int64) (*model.Campaign, error) {
	if !dbc.InTx() {
		return nil, errLockOutsideTx
	}
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE id = $1 AND user_id = $2
        FOR UPDATE`
	c, err := scanCampaign(dbc.Tx.QueryRowContext(dbc.Context(), query, campaignID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(campaignID)
		}
		return nil, fmt.Errorf("lock campaign %d: %w", campaignID, err)
	}
	return c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(dbc dbctx.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (user_id, name, status)
        VALUES ($1, $2, $3)
        RETURNING id, created_at
    `
	return dbc.Querier(r.DB).QueryRowContext(dbc.Context(), query, c.UserID, c.Name, c.Status).
		Scan(&c.ID, &c.CreatedAt)
}

func (r *CampaignRepository) GetByID(dbc dbctx.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(dbc.Querier(r.DB).QueryRowContext(dbc.Context(), query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) UpdateStatus(dbc dbctx.Context, campaignID int64, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`
	res, err := dbc.Querier(r.DB).ExecContext(dbc.Context(), query, status, campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	r.log.Debug("Campaign status updated", "campaign_id", campaignID, "status", status)
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

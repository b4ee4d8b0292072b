package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/unclebandit/drip-campaign-backend/internal/dbctx"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
)

// SequenceStepRepositoryInterface is the row-level storage for steps. It
// does not enforce ownership or the running guard on writes; callers hold
// the campaign lock for that. Methods that renumber steps rely on the
// deferred (campaign_id, step_index) constraint and must run inside a
// transaction.
type SequenceStepRepositoryInterface interface {
	// ListByOwner joins through campaigns so only userID's steps are seen.
	ListByOwner(dbc dbctx.Context, userID, campaignID int64) ([]*model.SequenceStep, error)
	ListByCampaign(dbc dbctx.Context, campaignID int64) ([]*model.SequenceStep, error)
	// MaxIndex returns -1 for a campaign without steps.
	MaxIndex(dbc dbctx.Context, campaignID int64) (int, error)
	// InsertBatch inserts inputs with indices start, start+1, ... in order.
	InsertBatch(dbc dbctx.Context, campaignID int64, start int, inputs []model.StepInput) ([]*model.SequenceStep, error)
	// GetByID returns nil, nil when the step is not under campaignID.
	GetByID(dbc dbctx.Context, campaignID, stepID int64) (*model.SequenceStep, error)
	// Update returns nil, nil when the step is not under campaignID.
	Update(dbc dbctx.Context, campaignID, stepID int64, patch model.StepPatch) (*model.SequenceStep, error)
	Delete(dbc dbctx.Context, campaignID, stepID int64) (bool, error)
	// ListIDs returns step ids ordered by current step_index.
	ListIDs(dbc dbctx.Context, campaignID int64) ([]int64, error)
	// ApplyOrder sets step_index = i for orderedIDs[i].
	ApplyOrder(dbc dbctx.Context, campaignID int64, orderedIDs []int64) error
	// Repack renumbers the campaign's steps to 0..n-1 keeping their order.
	Repack(dbc dbctx.Context, campaignID int64) error
}

type SequenceStepRepository struct {
	DB  *sql.DB
	log *logger.Logger
}

func NewSequenceStepRepository(db *sql.DB, baseLog *logger.Logger) *SequenceStepRepository {
	return &SequenceStepRepository{DB: db, log: baseLog.With("repo", "SequenceStepRepository")}
}

const stepColumns = `id, campaign_id, step_index, delay_hours, from_email_account_id,
        subject_template, body_template, prompt_key, enabled, created_at, updated_at`

func scanStep(row interface{ Scan(...any) error }) (*model.SequenceStep, error) {
	var s model.SequenceStep
	err := row.Scan(
		&s.ID, &s.CampaignID, &s.StepIndex, &s.DelayHours, &s.FromEmailAccountID,
		&s.SubjectTemplate, &s.BodyTemplate, &s.PromptKey, &s.Enabled,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSteps(rows *sql.Rows) ([]*model.SequenceStep, error) {
	defer rows.Close()
	steps := []*model.SequenceStep{}
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

// ====================== Reads ======================

func (r *SequenceStepRepository) ListByOwner(dbc dbctx.Context, userID, campaignID int64) ([]*model.SequenceStep, error) {
	query := `
        SELECT s.id, s.campaign_id, s.step_index, s.delay_hours, s.from_email_account_id,
               s.subject_template, s.body_template, s.prompt_key, s.enabled, s.created_at, s.updated_at
        FROM sequence_steps s
        JOIN campaigns c ON c.id = s.campaign_id
        WHERE s.campaign_id = $1 AND c.user_id = $2
        ORDER BY s.step_index ASC
    `
	rows, err := dbc.Querier(r.DB).QueryContext(dbc.Context(), query, campaignID, userID)
	if err != nil {
		return nil, err
	}
	return scanSteps(rows)
}

func (r *SequenceStepRepository) ListByCampaign(dbc dbctx.Context, campaignID int64) ([]*model.SequenceStep, error) {
	query := `SELECT ` + stepColumns + `
        FROM sequence_steps
        WHERE campaign_id = $1
        ORDER BY step_index ASC`
	rows, err := dbc.Querier(r.DB).QueryContext(dbc.Context(), query, campaignID)
	if err != nil {
		return nil, err
	}
	return scanSteps(rows)
}

func (r *SequenceStepRepository) MaxIndex(dbc dbctx.Context, campaignID int64) (int, error) {
	var max int
	err := dbc.Querier(r.DB).QueryRowContext(dbc.Context(),
		`SELECT COALESCE(MAX(step_index), -1) FROM sequence_steps WHERE campaign_id = $1`,
		campaignID,
	).Scan(&max)
	return max, err
}

func (r *SequenceStepRepository) GetByID(dbc dbctx.Context, campaignID, stepID int64) (*model.SequenceStep, error) {
	query := `SELECT ` + stepColumns + ` FROM sequence_steps WHERE id = $1 AND campaign_id = $2`
	s, err := scanStep(dbc.Querier(r.DB).QueryRowContext(dbc.Context(), query, stepID, campaignID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *SequenceStepRepository) ListIDs(dbc dbctx.Context, campaignID int64) ([]int64, error) {
	rows, err := dbc.Querier(r.DB).QueryContext(dbc.Context(),
		`SELECT id FROM sequence_steps WHERE campaign_id = $1 ORDER BY step_index ASC`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ====================== Writes ======================

func (r *SequenceStepRepository) InsertBatch(dbc dbctx.Context, campaignID int64, start int, inputs []model.StepInput) ([]*model.SequenceStep, error) {
	if len(inputs) == 0 {
		return []*model.SequenceStep{}, nil
	}

	const cols = 8
	values := make([]string, 0, len(inputs))
	args := make([]any, 0, len(inputs)*cols)
	for i, in := range inputs {
		base := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args,
			campaignID,
			start+i,
			in.DelayHours,
			in.FromEmailAccountID,
			in.SubjectTemplate,
			in.BodyTemplate,
			in.PromptKey,
			in.IsEnabled(),
		)
	}

	query := `
        INSERT INTO sequence_steps
            (campaign_id, step_index, delay_hours, from_email_account_id,
             subject_template, body_template, prompt_key, enabled)
        VALUES ` + strings.Join(values, ", ") + `
        RETURNING ` + stepColumns

	rows, err := dbc.Querier(r.DB).QueryContext(dbc.Context(), query, args...)
	if err != nil {
		return nil, err
	}
	steps, err := scanSteps(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING order is not guaranteed for multi-row inserts.
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepIndex < steps[j].StepIndex })
	return steps, nil
}

func (r *SequenceStepRepository) Update(dbc dbctx.Context, campaignID, stepID int64, patch model.StepPatch) (*model.SequenceStep, error) {
	set, args := buildStepUpdate(patch)
	args = append(args, stepID, campaignID)
	query := fmt.Sprintf(`
        UPDATE sequence_steps
        SET %s
        WHERE id = $%d AND campaign_id = $%d
        RETURNING %s`, set, len(args)-1, len(args), stepColumns)

	s, err := scanStep(dbc.Querier(r.DB).QueryRowContext(dbc.Context(), query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// buildStepUpdate renders the SET clause for the supplied patch fields.
// Placeholders start at $1; explicit nulls are written as NULL literals.
func buildStepUpdate(p model.StepPatch) (string, []any) {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.DelayHours != nil {
		add("delay_hours", *p.DelayHours)
	}
	if p.FromEmailAccountID.Set {
		if p.FromEmailAccountID.Valid {
			add("from_email_account_id", p.FromEmailAccountID.Value)
		} else {
			sets = append(sets, "from_email_account_id = NULL")
		}
	}
	if p.SubjectTemplate != nil {
		add("subject_template", *p.SubjectTemplate)
	}
	if p.BodyTemplate != nil {
		add("body_template", *p.BodyTemplate)
	}
	if p.PromptKey.Set {
		if p.PromptKey.Valid {
			add("prompt_key", p.PromptKey.Value)
		} else {
			sets = append(sets, "prompt_key = NULL")
		}
	}
	if p.Enabled != nil {
		add("enabled", *p.Enabled)
	}
	sets = append(sets, "updated_at = NOW()")
	return strings.Join(sets, ", "), args
}

func (r *SequenceStepRepository) Delete(dbc dbctx.Context, campaignID, stepID int64) (bool, error) {
	res, err := dbc.Querier(r.DB).ExecContext(dbc.Context(),
		`DELETE FROM sequence_steps WHERE id = $1 AND campaign_id = $2`,
		stepID, campaignID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SequenceStepRepository) ApplyOrder(dbc dbctx.Context, campaignID int64, orderedIDs []int64) error {
	if len(orderedIDs) == 0 {
		return nil
	}
	query := `
        UPDATE sequence_steps s
        SET step_index = o.ord - 1, updated_at = NOW()
        FROM unnest($2::bigint[]) WITH ORDINALITY AS o(id, ord)
        WHERE s.id = o.id
          AND s.campaign_id = $1
          AND s.step_index <> o.ord - 1
    `
	_, err := dbc.Querier(r.DB).ExecContext(dbc.Context(), query, campaignID, pq.Array(orderedIDs))
	return err
}

func (r *SequenceStepRepository) Repack(dbc dbctx.Context, campaignID int64) error {
	query := `
        UPDATE sequence_steps s
        SET step_index = ranked.new_index, updated_at = NOW()
        FROM (
            SELECT id, ROW_NUMBER() OVER (ORDER BY step_index ASC) - 1 AS new_index
            FROM sequence_steps
            WHERE campaign_id = $1
        ) ranked
        WHERE s.id = ranked.id
          AND s.step_index <> ranked.new_index
    `
	res, err := dbc.Querier(r.DB).ExecContext(dbc.Context(), query, campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.log.Debug("Repacked steps", "campaign_id", campaignID, "moved", n)
	}
	return nil
}

var _ SequenceStepRepositoryInterface = (*SequenceStepRepository)(nil)

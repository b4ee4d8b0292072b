package model

import (
	"time"

	appErrors "github.com/unclebandit/drip-campaign-backend/internal/errors"
)

// SequenceStep is one templated message in a campaign's drip sequence.
//
// StepIndex is dense and zero-based within a campaign, but it is not a
// durable key: deletes and reorders renumber the remaining steps. Use ID to
// refer to a step across operations.
type SequenceStep struct {
	ID                 int64     `db:"id" json:"id"`
	CampaignID         int64     `db:"campaign_id" json:"campaign_id"`
	StepIndex          int       `db:"step_index" json:"step_index"`
	DelayHours         int       `db:"delay_hours" json:"delay_hours"`
	FromEmailAccountID *int64    `db:"from_email_account_id" json:"from_email_account_id"`
	SubjectTemplate    string    `db:"subject_template" json:"subject_template"`
	BodyTemplate       string    `db:"body_template" json:"body_template"`
	PromptKey          *string   `db:"prompt_key" json:"prompt_key"`
	Enabled            bool      `db:"enabled" json:"enabled"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// StepInput describes a step to append. The index is assigned by the store.
type StepInput struct {
	DelayHours         int     `json:"delay_hours"`
	FromEmailAccountID *int64  `json:"from_email_account_id"`
	SubjectTemplate    string  `json:"subject_template"`
	BodyTemplate       string  `json:"body_template"`
	PromptKey          *string `json:"prompt_key"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled"`
}

func (in StepInput) Validate() error {
	if in.DelayHours < 0 {
		return appErrors.NewValidation("delay_hours", "must not be negative")
	}
	return nil
}

func (in StepInput) IsEnabled() bool {
	return in.Enabled == nil || *in.Enabled
}

// StepPatch is a partial update. Nil pointers and unset Nullable fields are
// left untouched. There is deliberately no index field: order changes go
// through reorder.
type StepPatch struct {
	DelayHours         *int             `json:"delay_hours"`
	FromEmailAccountID Nullable[int64]  `json:"from_email_account_id"`
	SubjectTemplate    *string          `json:"subject_template"`
	BodyTemplate       *string          `json:"body_template"`
	PromptKey          Nullable[string] `json:"prompt_key"`
	Enabled            *bool            `json:"enabled"`
}

func (p StepPatch) IsEmpty() bool {
	return p.DelayHours == nil &&
		!p.FromEmailAccountID.Set &&
		p.SubjectTemplate == nil &&
		p.BodyTemplate == nil &&
		!p.PromptKey.Set &&
		p.Enabled == nil
}

func (p StepPatch) Validate() error {
	if p.DelayHours != nil && *p.DelayHours < 0 {
		return appErrors.NewValidation("delay_hours", "must not be negative")
	}
	return nil
}

// Apply returns a copy of s with the patch applied. Used by callers that
// keep steps in memory.
func (p StepPatch) Apply(s SequenceStep) SequenceStep {
	if p.DelayHours != nil {
		s.DelayHours = *p.DelayHours
	}
	if p.FromEmailAccountID.Set {
		s.FromEmailAccountID = p.FromEmailAccountID.Ptr()
	}
	if p.SubjectTemplate != nil {
		s.SubjectTemplate = *p.SubjectTemplate
	}
	if p.BodyTemplate != nil {
		s.BodyTemplate = *p.BodyTemplate
	}
	if p.PromptKey.Set {
		s.PromptKey = p.PromptKey.Ptr()
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	return s
}

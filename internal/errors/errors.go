// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a machine-readable error code callers can branch on.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeCampaignNotFound Code = "CAMPAIGN_NOT_FOUND"
	CodeCampaignRunning  Code = "CAMPAIGN_RUNNING"
	CodeInvalidStepIDs   Code = "INVALID_STEP_IDS"
	CodeValidation       Code = "VALIDATION_FAILED"
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	Code() Code
}

// ErrCampaignNotFound covers both a missing campaign and one owned by
// another user.
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) Code() Code { return CodeCampaignNotFound }

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrCampaignRunning rejects step mutations while a campaign is sending.
type ErrCampaignRunning struct {
	CampaignID int64
}

func (e *ErrCampaignRunning) Error() string {
	return fmt.Sprintf("campaign with ID %d is running; steps cannot be changed", e.CampaignID)
}

func (e *ErrCampaignRunning) Code() Code { return CodeCampaignRunning }

func NewCampaignRunning(id int64) error {
	return &ErrCampaignRunning{CampaignID: id}
}

// ErrInvalidStepIDs lists the reorder ids that do not belong to the campaign.
type ErrInvalidStepIDs struct {
	CampaignID int64
	StepIDs    []int64
}

func (e *ErrInvalidStepIDs) Error() string {
	ids := make([]string, len(e.StepIDs))
	for i, id := range e.StepIDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("steps [%s] do not belong to campaign %d", strings.Join(ids, ", "), e.CampaignID)
}

func (e *ErrInvalidStepIDs) Code() Code { return CodeInvalidStepIDs }

func NewInvalidStepIDs(campaignID int64, ids []int64) error {
	return &ErrInvalidStepIDs{CampaignID: campaignID, StepIDs: ids}
}

// ErrValidation is an input error detected before any store access.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ErrValidation) Code() Code { return CodeValidation }

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}

// CodeOf returns the code of the first Coded error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeUnknown
}

// internal/controller/step_controller.go
package controller

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/unclebandit/drip-campaign-backend/internal/handler"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
	"github.com/unclebandit/drip-campaign-backend/internal/service"
)

const maxBodyBytes = 1 << 20

type StepController struct {
	Steps service.SequenceStepServiceInterface
	Log   *logger.Logger
}

func NewStepController(steps service.SequenceStepServiceInterface, baseLog *logger.Logger) *StepController {
	return &StepController{Steps: steps, Log: baseLog.With("controller", "StepController")}
}

// campaignScope resolves the caller and campaign id shared by every step
// route. It writes the error response itself.
func campaignScope(w http.ResponseWriter, r *http.Request) (userID, campaignID int64, ok bool) {
	userID, ok = handler.RequireUser(w, r)
	if !ok {
		return 0, 0, false
	}
	campaignID, err := handler.IDParam(r, "id")
	if err != nil {
		handler.BadRequest(w, "invalid campaign id")
		return 0, 0, false
	}
	return userID, campaignID, true
}

func limitBody(w http.ResponseWriter, r *http.Request) *http.Request {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return r
}

func (c *StepController) ListSteps(w http.ResponseWriter, r *http.Request) {
	userID, campaignID, ok := campaignScope(w, r)
	if !ok {
		return
	}
	steps, err := c.Steps.ListSteps(r.Context(), userID, campaignID)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]interface{}{"data": steps})
}

// CreateSteps accepts {"steps": [...]} or a single step object.
func (c *StepController) CreateSteps(w http.ResponseWriter, r *http.Request) {
	userID, campaignID, ok := campaignScope(w, r)
	if !ok {
		return
	}

	inputs, err := decodeStepInputs(limitBody(w, r).Body)
	if err != nil {
		handler.BadRequest(w, "invalid body: "+err.Error())
		return
	}
	if len(inputs) == 0 {
		handler.BadRequest(w, "steps must not be empty")
		return
	}

	steps, err := c.Steps.CreateSteps(r.Context(), userID, campaignID, inputs)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusCreated, map[string]interface{}{"data": steps})
}

func decodeStepInputs(body io.Reader) ([]model.StepInput, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	if _, batch := probe["steps"]; batch {
		var req struct {
			Steps []model.StepInput `json:"steps"`
		}
		if err := handler.DecodeBytes(raw, &req); err != nil {
			return nil, err
		}
		return req.Steps, nil
	}
	var one model.StepInput
	if err := handler.DecodeBytes(raw, &one); err != nil {
		return nil, err
	}
	return []model.StepInput{one}, nil
}

func (c *StepController) UpdateStep(w http.ResponseWriter, r *http.Request) {
	userID, campaignID, ok := campaignScope(w, r)
	if !ok {
		return
	}
	stepID, err := handler.IDParam(r, "stepID")
	if err != nil {
		handler.BadRequest(w, "invalid step id")
		return
	}

	var patch model.StepPatch
	if err := handler.Decode(limitBody(w, r), &patch); err != nil {
		handler.BadRequest(w, "invalid body: "+err.Error())
		return
	}

	step, err := c.Steps.UpdateStep(r.Context(), userID, campaignID, stepID, patch)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	if step == nil {
		handler.JSON(w, http.StatusNotFound, handler.ErrorBody{Error: "step not found"})
		return
	}
	handler.JSON(w, http.StatusOK, step)
}

func (c *StepController) DeleteStep(w http.ResponseWriter, r *http.Request) {
	userID, campaignID, ok := campaignScope(w, r)
	if !ok {
		return
	}
	stepID, err := handler.IDParam(r, "stepID")
	if err != nil {
		handler.BadRequest(w, "invalid step id")
		return
	}

	deleted, err := c.Steps.DeleteStep(r.Context(), userID, campaignID, stepID)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	if !deleted {
		handler.JSON(w, http.StatusNotFound, handler.ErrorBody{Error: "step not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *StepController) ReorderSteps(w http.ResponseWriter, r *http.Request) {
	userID, campaignID, ok := campaignScope(w, r)
	if !ok {
		return
	}

	var body struct {
		StepIDs []int64 `json:"step_ids"`
	}
	if err := handler.Decode(limitBody(w, r), &body); err != nil {
		handler.BadRequest(w, "invalid body: "+err.Error())
		return
	}
	if len(body.StepIDs) == 0 {
		handler.BadRequest(w, "step_ids must contain at least one id")
		return
	}

	steps, err := c.Steps.Reorder(r.Context(), userID, campaignID, body.StepIDs)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]interface{}{"data": steps})
}

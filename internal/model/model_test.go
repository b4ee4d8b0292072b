package model

import (
	"encoding/json"
	"testing"
)

func TestStepPatchDecode(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantEmpty  bool
		promptSet  bool
		promptNull bool
	}{
		{"empty object", `{}`, true, false, false},
		{"explicit null clears", `{"prompt_key": null}`, false, true, true},
		{"value sets", `{"prompt_key": "followup"}`, false, true, false},
		{"other field only", `{"enabled": false}`, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p StepPatch
			if err := json.Unmarshal([]byte(tc.body), &p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if p.IsEmpty() != tc.wantEmpty {
				t.Errorf("IsEmpty: expected %v", tc.wantEmpty)
			}
			if p.PromptKey.Set != tc.promptSet {
				t.Errorf("PromptKey.Set: expected %v", tc.promptSet)
			}
			if tc.promptSet && p.PromptKey.Valid == tc.promptNull {
				t.Errorf("PromptKey.Valid: expected %v", !tc.promptNull)
			}
		})
	}
}

func TestStepPatchApply(t *testing.T) {
	acct := int64(7)
	key := "intro"
	step := SequenceStep{
		ID:                 1,
		StepIndex:          2,
		DelayHours:         24,
		FromEmailAccountID: &acct,
		SubjectTemplate:    "Hi",
		PromptKey:          &key,
		Enabled:            true,
	}
	disabled := false
	subject := "Hello again"
	got := StepPatch{
		Enabled:         &disabled,
		SubjectTemplate: &subject,
		PromptKey:       Null[string](),
	}.Apply(step)

	if got.Enabled {
		t.Errorf("expected enabled=false")
	}
	if got.SubjectTemplate != subject {
		t.Errorf("expected subject %q, got %q", subject, got.SubjectTemplate)
	}
	if got.PromptKey != nil {
		t.Errorf("expected prompt key cleared, got %v", *got.PromptKey)
	}
	if got.FromEmailAccountID == nil || *got.FromEmailAccountID != 7 {
		t.Errorf("untouched field changed: %v", got.FromEmailAccountID)
	}
	if got.StepIndex != 2 || got.DelayHours != 24 {
		t.Errorf("untouched fields changed: index=%d delay=%d", got.StepIndex, got.DelayHours)
	}
}

func TestValidateNegativeDelay(t *testing.T) {
	neg := -1
	if err := (StepPatch{DelayHours: &neg}).Validate(); err == nil {
		t.Errorf("expected patch validation error")
	}
	if err := (StepInput{DelayHours: -3}).Validate(); err == nil {
		t.Errorf("expected input validation error")
	}
	if err := (StepInput{DelayHours: 0}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStepInputEnabledDefault(t *testing.T) {
	var in StepInput
	if err := json.Unmarshal([]byte(`{"subject_template":"x"}`), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !in.IsEnabled() {
		t.Errorf("expected enabled by default")
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("campaign-send", "42", "0", "1001")
	b := IdempotencyKey("campaign-send", "42", "0", "1001")
	c := IdempotencyKey("campaign-send", "42", "01", "001")
	if a != b {
		t.Errorf("expected stable key, got %s and %s", a, b)
	}
	if a == c {
		t.Errorf("part boundaries must change the key")
	}
}

func TestFinalAttempt(t *testing.T) {
	j := &Job{Attempts: 3, MaxAttempts: 5}
	if j.FinalAttempt() {
		t.Errorf("attempt 4 of 5 is not final")
	}
	j.Attempts = 4
	if !j.FinalAttempt() {
		t.Errorf("attempt 5 of 5 is final")
	}
}

func TestCampaignStatusValid(t *testing.T) {
	if !CampaignRunning.Valid() || CampaignStatus("sending").Valid() {
		t.Errorf("unexpected status validity")
	}
}

package model

import (
	"testing"
	"time"
)

func TestActiveStepsOrdering(t *testing.T) {
	wf := &WorkflowDefinition{
		Steps: []StepDefinition{
			{ID: "s3", StepOrder: 3, Active: true},
			{ID: "s1", StepOrder: 1, Active: true},
			{ID: "s2", StepOrder: 2, Active: false},
			{ID: "s4", StepOrder: 4, Active: true},
		},
	}

	active := wf.ActiveSteps()
	if len(active) != 3 {
		t.Fatalf("expected 3 active steps, got %d", len(active))
	}
	want := []string{"s1", "s3", "s4"}
	for i, id := range want {
		if active[i].ID != id {
			t.Errorf("step %d: expected %s, got %s", i, id, active[i].ID)
		}
	}
}

func TestActiveStepsEmpty(t *testing.T) {
	wf := &WorkflowDefinition{
		Steps: []StepDefinition{
			{ID: "s1", StepOrder: 1, Active: false},
		},
	}
	if got := wf.ActiveSteps(); len(got) != 0 {
		t.Errorf("expected no active steps, got %d", len(got))
	}
}

func TestMatchesEvent(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		event  string
		want   bool
	}{
		{"empty matches all", nil, EventCreated, true},
		{"listed event matches", []string{EventCreated, EventUpdated}, EventUpdated, true},
		{"unlisted event does not", []string{EventCreated}, EventDeleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &WorkflowDefinition{TriggerEvents: tt.events}
			if got := wf.MatchesEvent(tt.event); got != tt.want {
				t.Errorf("MatchesEvent(%q) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestStepDurations(t *testing.T) {
	step := StepDefinition{SLA: "48h", Delay: "30m"}
	if got := step.SLADuration(); got != 48*time.Hour {
		t.Errorf("SLADuration = %v, want 48h", got)
	}
	if got := step.DelayDuration(); got != 30*time.Minute {
		t.Errorf("DelayDuration = %v, want 30m", got)
	}

	bad := StepDefinition{SLA: "two days", Delay: ""}
	if got := bad.SLADuration(); got != 0 {
		t.Errorf("malformed SLA should parse as zero, got %v", got)
	}
	if got := bad.DelayDuration(); got != 0 {
		t.Errorf("empty delay should parse as zero, got %v", got)
	}
}

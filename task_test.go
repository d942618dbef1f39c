package main

import "testing"

// ---------------------------------------------------------------------------
// Status lifecycle
// ---------------------------------------------------------------------------

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
	}
	for _, c := range cases {
		if got := c.status.IsTerminal(); got != c.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestCompletedAndSucceeded(t *testing.T) {
	task := Task{Status: StatusRunning}
	if task.Completed() || task.Succeeded() {
		t.Fatal("a running task is neither completed nor succeeded")
	}

	task.Status = StatusFailed
	if !task.Completed() || task.Succeeded() {
		t.Fatal("a failed task is completed but not succeeded")
	}

	task.Status = StatusSucceeded
	if !task.Completed() || !task.Succeeded() {
		t.Fatal("a succeeded task is both completed and succeeded")
	}
}

// ---------------------------------------------------------------------------
// Partial updates
// ---------------------------------------------------------------------------

func TestApplyTouchesOnlySetFields(t *testing.T) {
	task := Task{
		ID:      "t1",
		Prompt:  "a cat",
		Status:  StatusRunning,
		Message: "rendering",
	}
	TaskUpdate{Message: strPtr("almost done")}.apply(&task)

	if task.Message != "almost done" {
		t.Fatalf("message not applied: %q", task.Message)
	}
	if task.Status != StatusRunning || task.Prompt != "a cat" {
		t.Fatalf("unset fields were modified: %+v", task)
	}
}

func TestApplyClearsWithEmptyString(t *testing.T) {
	task := Task{Message: "old"}
	TaskUpdate{Message: strPtr("")}.apply(&task)
	if task.Message != "" {
		t.Fatalf("a set empty string must clear the field, got %q", task.Message)
	}
}

func TestApplyForwardTransitions(t *testing.T) {
	task := Task{Status: StatusPending}

	TaskUpdate{Status: statusPtr(StatusRunning)}.apply(&task)
	if task.Status != StatusRunning {
		t.Fatalf("PENDING -> RUNNING rejected, got %s", task.Status)
	}
	TaskUpdate{Status: statusPtr(StatusSucceeded)}.apply(&task)
	if task.Status != StatusSucceeded {
		t.Fatalf("RUNNING -> SUCCEEDED rejected, got %s", task.Status)
	}
}

func TestApplyDropsAnyChangeFromTerminal(t *testing.T) {
	for _, terminal := range []Status{StatusSucceeded, StatusFailed} {
		for _, next := range []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed} {
			if next == terminal {
				continue
			}
			task := Task{Status: terminal}
			TaskUpdate{Status: statusPtr(next)}.apply(&task)
			if task.Status != terminal {
				t.Errorf("%s -> %s was applied; terminal states are final", terminal, next)
			}
		}
	}
}

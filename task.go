// task.go defines the task record tracked by the store and the status
// lifecycle it moves through.
package main

// Status is the lifecycle state of a task. Transitions only move forward:
//
//	PENDING -> RUNNING -> SUCCEEDED | FAILED
//
// Once a task is SUCCEEDED or FAILED nothing moves it back.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Task is one user-initiated generation request and everything tracked about
// it, from the original prompt through to the downloaded artifact. The JSON
// tags define the ledger format: every field written by Create/Update must
// survive a save/load round trip unchanged.
//
// Prompt, Model, Resolution, NegativePrompt, PromptExtend and InputFile are
// fixed at creation. Everything else is mutated through TaskStore.Update.
type Task struct {
	ID             string `json:"id"`
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	Resolution     string `json:"resolution"`
	Status         Status `json:"status"`
	AsyncTaskID    string `json:"async_task_id"` // remote job id, empty until submission succeeds
	NegativePrompt string `json:"negative_prompt"`
	PromptExtend   bool   `json:"prompt_extend"`
	InputFile      string `json:"input_file"`
	OutputPath     string `json:"output_path"` // local artifact path, set only on success
	VideoURL       string `json:"video_url"`   // remote artifact URL, set on success
	Message        string `json:"message"`
	Error          string `json:"error"`
	ErrorCode      string `json:"error_code"`
	CreatedAt      string `json:"created_at"`   // RFC 3339, fixed at creation
	CompletedAt    string `json:"completed_at"` // RFC 3339, set once terminal
}

// Completed reports whether the task has reached a terminal status.
func (t *Task) Completed() bool {
	return t.Status.IsTerminal()
}

// Succeeded reports whether the task finished with a downloaded artifact.
func (t *Task) Succeeded() bool {
	return t.Status == StatusSucceeded
}

// TaskUpdate is a field-level partial update applied through the store.
// Nil fields are left untouched.
type TaskUpdate struct {
	Status      *Status
	AsyncTaskID *string
	OutputPath  *string
	VideoURL    *string
	Message     *string
	Error       *string
	ErrorCode   *string
	CompletedAt *string
}

// apply copies the non-nil fields of u onto t. A status change on a task
// already in a terminal state is dropped: terminal states are final.
func (u TaskUpdate) apply(t *Task) {
	if u.Status != nil && !t.Status.IsTerminal() {
		t.Status = *u.Status
	}
	if u.AsyncTaskID != nil {
		t.AsyncTaskID = *u.AsyncTaskID
	}
	if u.OutputPath != nil {
		t.OutputPath = *u.OutputPath
	}
	if u.VideoURL != nil {
		t.VideoURL = *u.VideoURL
	}
	if u.Message != nil {
		t.Message = *u.Message
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
	if u.ErrorCode != nil {
		t.ErrorCode = *u.ErrorCode
	}
	if u.CompletedAt != nil {
		t.CompletedAt = *u.CompletedAt
	}
}

func strPtr(s string) *string    { return &s }
func statusPtr(s Status) *Status { return &s }

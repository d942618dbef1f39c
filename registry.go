// registry.go implements the task registry: the coordinator that bridges
// callers to the store and the remote client, and guarantees at most one
// active monitor per task id.
package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskRegistry owns the task store, the remote client, and the set of
// active monitors. All task mutation driven by submission or monitoring
// flows through here; UI surfaces observe it through Subscribe instead of
// polling the store.
type TaskRegistry struct {
	store     *TaskStore
	client    JobClient
	outputDir string
	interval  time.Duration

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	observers []func(taskID string)
	closed    bool
	wg        sync.WaitGroup

	log *logrus.Entry
}

// NewTaskRegistry wires a registry over the given store and client.
// Downloaded artifacts land in outputDir.
func NewTaskRegistry(store *TaskStore, client JobClient, outputDir string) *TaskRegistry {
	return &TaskRegistry{
		store:     store,
		client:    client,
		outputDir: outputDir,
		interval:  defaultPollInterval,
		active:    make(map[string]context.CancelFunc),
		log:       logrus.WithField("component", "registry"),
	}
}

// Subscribe registers an observer called with the task id after every
// submission- or monitor-driven store update. Callbacks run on monitor
// goroutines and must not block.
func (r *TaskRegistry) Subscribe(fn func(taskID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *TaskRegistry) notify(taskID string) {
	r.mu.Lock()
	observers := make([]func(string), len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(taskID)
	}
}

// SubmitAndTrack creates the ledger entry, submits the remote job once, and
// starts the task's monitor. Submission is not idempotent on the remote
// side, so it is never retried here: a failed submission fails the task
// immediately and no monitor starts.
func (r *TaskRegistry) SubmitAndTrack(ctx context.Context, spec JobSpec) Task {
	task := r.store.Create(CreateParams{
		Prompt:         spec.Prompt,
		Model:          spec.Model,
		Resolution:     resolutionOf(spec),
		NegativePrompt: spec.NegativePrompt,
		PromptExtend:   spec.PromptExtend,
		InputFile:      strings.Join(spec.InputFiles, ","),
	})

	asyncID, err := r.client.Submit(ctx, spec)
	if err != nil {
		r.log.WithFields(logrus.Fields{"task": task.ID, "model": spec.Model}).WithError(err).Warn("submission failed")
		update := TaskUpdate{
			Status:      statusPtr(StatusFailed),
			Error:       strPtr(err.Error()),
			CompletedAt: strPtr(time.Now().Format(time.RFC3339)),
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			update.ErrorCode = strPtr(remoteCode(remote))
		}
		r.store.Update(task.ID, update)
		r.notify(task.ID)
		got, _ := r.store.Get(task.ID)
		return got
	}

	r.store.Update(task.ID, TaskUpdate{
		AsyncTaskID: strPtr(asyncID),
		Status:      statusPtr(StatusRunning),
	})
	r.notify(task.ID)
	r.startMonitor(task.ID, ceilingFor(spec.Kind))

	got, _ := r.store.Get(task.ID)
	return got
}

// StartMonitoring starts a monitor for an existing task. It is a no-op for
// unknown, terminal, or never-submitted tasks, and for tasks that already
// have an active monitor — at most one monitor runs per task id no matter
// how many surfaces ask. Reports whether a monitor was started.
func (r *TaskRegistry) StartMonitoring(id string) bool {
	task, ok := r.store.Get(id)
	if !ok || task.Completed() || task.AsyncTaskID == "" {
		return false
	}
	return r.startMonitor(id, ceilingForModel(task.Model))
}

func (r *TaskRegistry) startMonitor(id string, maxPolls int) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, dup := r.active[id]; dup {
		r.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.active[id] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	m := newTaskMonitor(id, r.store, r.client, r.outputDir, r.interval, maxPolls, r.notify)
	go func() {
		defer r.wg.Done()
		defer r.release(id)
		m.run(ctx)
	}()
	return true
}

// release drops a finished monitor from the active set so a future task
// can be monitored under a fresh id. Terminated ids never restart.
func (r *TaskRegistry) release(id string) {
	r.mu.Lock()
	if cancel, ok := r.active[id]; ok {
		delete(r.active, id)
		cancel()
	}
	r.mu.Unlock()
}

// StopMonitoring cancels the active monitor for id, if any. The task is
// left as-is: stopping reclaims the worker, it does not fail the job.
// Reports whether a monitor was actually running.
func (r *TaskRegistry) StopMonitoring(id string) bool {
	r.mu.Lock()
	cancel, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ResumePending restarts monitors for every non-terminal ledger task, for
// use after a process restart. Tasks that never received a remote id are
// skipped: the submission cannot be replayed safely. Returns how many
// monitors were started.
func (r *TaskRegistry) ResumePending() int {
	started := 0
	for _, task := range r.store.Pending() {
		if task.AsyncTaskID == "" {
			r.log.WithField("task", task.ID).Warn("pending task has no remote id, not resuming")
			continue
		}
		if r.StartMonitoring(task.ID) {
			started++
		}
	}
	return started
}

// Close cancels every active monitor and waits for them to exit. The
// registry accepts no new monitors afterwards.
func (r *TaskRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	for id, cancel := range r.active {
		cancel()
		delete(r.active, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// ceilingFor picks the poll ceiling for a freshly submitted job by kind.
func ceilingFor(kind JobKind) int {
	switch kind {
	case JobTextToImage, JobImageEdit:
		return imagePollCeiling
	default:
		return videoPollCeiling
	}
}

// ceilingForModel picks the ceiling for tasks resumed from the ledger,
// where only the model name survives. Models outside the catalog fall back
// to a name heuristic, erring towards the longer video ceiling.
func ceilingForModel(model string) int {
	if kind, ok := KindForModel(model); ok {
		return ceilingFor(kind)
	}
	if strings.Contains(model, "image") || strings.Contains(model, "t2i") {
		return imagePollCeiling
	}
	return videoPollCeiling
}

// resolutionOf records whichever sizing field the job kind uses: video jobs
// carry a resolution class, image jobs a pixel size.
func resolutionOf(spec JobSpec) string {
	if spec.Resolution != "" {
		return spec.Resolution
	}
	return spec.Size
}

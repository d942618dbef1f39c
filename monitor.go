// monitor.go implements the polling loop that drives one task from RUNNING
// to a terminal status.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 5 * time.Second

	// Poll ceilings per job family, in iterations of the poll interval.
	// Video synthesis can take many minutes; image jobs come back fast.
	videoPollCeiling = 180 // ~15 minutes at the 5s interval
	imagePollCeiling = 60  // ~2 minutes
)

// pollOutcome classifies one poll iteration so the loop can decide whether
// to keep going without guessing from raw errors.
type pollOutcome int

const (
	pollContinue pollOutcome = iota // remote still in flight, or a transient failure
	pollDone                        // task reached a terminal status
)

// taskMonitor polls the remote job behind one task until the task is
// terminal, the poll ceiling is hit, or its context is cancelled. Exactly
// one monitor runs per task id at a time; the registry enforces that.
type taskMonitor struct {
	taskID    string
	store     *TaskStore
	client    JobClient
	outputDir string
	interval  time.Duration
	maxPolls  int
	notify    func(taskID string)
	log       *logrus.Entry
}

func newTaskMonitor(taskID string, store *TaskStore, client JobClient, outputDir string, interval time.Duration, maxPolls int, notify func(string)) *taskMonitor {
	return &taskMonitor{
		taskID:    taskID,
		store:     store,
		client:    client,
		outputDir: outputDir,
		interval:  interval,
		maxPolls:  maxPolls,
		notify:    notify,
		log:       logrus.WithFields(logrus.Fields{"component": "monitor", "task": taskID}),
	}
}

// run executes the poll loop. It returns when the task is terminal, the
// ceiling is exceeded, or ctx is cancelled. Hitting the ceiling fails the
// task locally only — the remote job keeps running, we just stop watching.
func (m *taskMonitor) run(ctx context.Context) {
	for i := 0; i < m.maxPolls; i++ {
		if !sleepCtx(ctx, m.interval) {
			return
		}
		if m.pollOnce(ctx) == pollDone {
			return
		}
	}
	waited := time.Duration(m.maxPolls) * m.interval
	m.log.WithField("waited", waited).Warn("poll ceiling exceeded")
	m.finish(TaskUpdate{
		Status:    statusPtr(StatusFailed),
		Error:     strPtr(fmt.Sprintf("generation timed out after %s (%d polls); the remote job may still finish", waited, m.maxPolls)),
		ErrorCode: strPtr("LocalTimeout"),
	})
}

// pollOnce performs a single query/update round. Transient errors (network
// hiccups, unclassified failures) just log and continue; definitive remote
// errors fail the task.
func (m *taskMonitor) pollOnce(ctx context.Context) pollOutcome {
	task, ok := m.store.Get(m.taskID)
	if !ok || task.Completed() || task.AsyncTaskID == "" {
		return pollDone
	}

	st, err := m.client.Query(ctx, task.AsyncTaskID)
	if err != nil {
		if ctx.Err() != nil {
			return pollDone
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			// A definitive answer from the API: the job is gone or the
			// request itself is rejected. No point polling further.
			m.finish(TaskUpdate{
				Status:    statusPtr(StatusFailed),
				Error:     strPtr(remote.Message),
				ErrorCode: strPtr(remoteCode(remote)),
			})
			return pollDone
		}
		m.log.WithError(err).Warn("poll failed, retrying next tick")
		return pollContinue
	}

	switch st.Status {
	case StatusSucceeded:
		m.complete(ctx, task, st)
		return pollDone
	case StatusFailed:
		code := st.Code
		if code == "" {
			code = "UnknownError"
		}
		m.finish(TaskUpdate{
			Status:      statusPtr(StatusFailed),
			Message:     strPtr(st.Message),
			Error:       strPtr(st.Message),
			ErrorCode:   strPtr(code),
			CompletedAt: strPtr(time.Now().Format(time.RFC3339)),
		})
		return pollDone
	default:
		if st.Message != "" && st.Message != task.Message {
			m.store.Update(m.taskID, TaskUpdate{Message: strPtr(st.Message)})
			m.emit()
		}
		return pollContinue
	}
}

// complete handles a SUCCEEDED remote status: download the artifact unless
// a previous monitor already put it on disk, then mark the task done.
func (m *taskMonitor) complete(ctx context.Context, task Task, st JobStatus) {
	if st.ArtifactURL == "" {
		m.finish(TaskUpdate{
			Status:      statusPtr(StatusFailed),
			Error:       strPtr("remote job succeeded but returned no artifact URL"),
			ErrorCode:   strPtr("EmptyArtifact"),
			CompletedAt: strPtr(time.Now().Format(time.RFC3339)),
		})
		return
	}

	// Guard against duplicate downloads: another surface may have already
	// pulled this artifact down before our monitor got here.
	if task.OutputPath != "" && fileExists(task.OutputPath) {
		m.finish(TaskUpdate{
			Status:      statusPtr(StatusSucceeded),
			VideoURL:    strPtr(st.ArtifactURL),
			CompletedAt: strPtr(time.Now().Format(time.RFC3339)),
		})
		return
	}

	dest := filepath.Join(m.outputDir, task.ID+artifactExt(st.ArtifactURL))
	path, err := m.client.Download(ctx, st.ArtifactURL, dest)
	if err != nil {
		// A download aborted by shutdown or StopMonitoring is not a task
		// failure: leave the task as-is so a later monitor finishes it.
		if ctx.Err() != nil {
			return
		}
		// A failed download is terminal: retrying risks stacking partial
		// files, and the artifact URL stays on record for manual recovery.
		m.log.WithError(err).Error("artifact download failed")
		m.finish(TaskUpdate{
			Status:      statusPtr(StatusFailed),
			VideoURL:    strPtr(st.ArtifactURL),
			Error:       strPtr(err.Error()),
			ErrorCode:   strPtr("DownloadError"),
			CompletedAt: strPtr(time.Now().Format(time.RFC3339)),
		})
		return
	}

	m.finish(TaskUpdate{
		Status:      statusPtr(StatusSucceeded),
		OutputPath:  strPtr(path),
		VideoURL:    strPtr(st.ArtifactURL),
		Message:     strPtr(st.Message),
		CompletedAt: strPtr(time.Now().Format(time.RFC3339)),
	})
}

func (m *taskMonitor) finish(u TaskUpdate) {
	if u.CompletedAt == nil && u.Status != nil && u.Status.IsTerminal() {
		u.CompletedAt = strPtr(time.Now().Format(time.RFC3339))
	}
	m.store.Update(m.taskID, u)
	m.emit()
}

func (m *taskMonitor) emit() {
	if m.notify != nil {
		m.notify(m.taskID)
	}
}

func remoteCode(e *RemoteError) string {
	if e.Code != "" {
		return e.Code
	}
	return "RemoteError"
}

// sleepCtx sleeps for d unless ctx is cancelled first. Reports whether the
// full interval elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

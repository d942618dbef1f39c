// task_summary.go provides the read views UI panels render: aggregate
// status counts plus the full task list sorted newest first.
package main

import "sort"

// TaskSummary provides aggregate counts across all tasks in a store.
type TaskSummary struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
}

// Snapshot returns the summary and every task sorted by creation time
// descending, the order task lists display. The returned tasks are copies;
// panels can hold them without touching the store lock.
func Snapshot(store *TaskStore) (TaskSummary, []Task) {
	tasks := store.List()
	// CreatedAt is RFC 3339, so lexicographic order is chronological.
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt > tasks[j].CreatedAt })

	var s TaskSummary
	for _, t := range tasks {
		s.Total++
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, tasks
}

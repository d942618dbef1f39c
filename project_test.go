package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateProjectLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "my-film")
	p, err := CreateProject("My Film", path, "test shots")
	if err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{p.InputsFolder(), p.OutputsFolder()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
	if !p.Valid() {
		t.Fatal("freshly created project must be valid")
	}
	data, err := os.ReadFile(p.TasksFile())
	if err != nil || string(data) != "{}\n" {
		t.Fatalf("expected an empty ledger, got %q err=%v", data, err)
	}
	if p.Config.Name != "My Film" || p.Config.Description != "test shots" {
		t.Fatalf("config not recorded: %+v", p.Config)
	}
	if p.Config.CreatedAt == "" || p.Config.Version == "" {
		t.Fatalf("metadata missing: %+v", p.Config)
	}
}

func TestOpenProjectRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "my-film")
	created, err := CreateProject("My Film", path, "test shots")
	if err != nil {
		t.Fatal(err)
	}

	opened, err := OpenProject(path)
	if err != nil {
		t.Fatal(err)
	}
	if opened.Config.Name != created.Config.Name || opened.Config.CreatedAt != created.Config.CreatedAt {
		t.Fatalf("config changed across open: %+v vs %+v", opened.Config, created.Config)
	}
	if opened.Config.LastOpened == "" {
		t.Fatal("open must refresh last_opened")
	}
}

func TestOpenProjectMissing(t *testing.T) {
	if _, err := OpenProject(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected an error for a missing project")
	}
}

func TestProjectScopedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "my-film")
	p, err := CreateProject("My Film", path, "")
	if err != nil {
		t.Fatal(err)
	}

	// The per-project ledger starts empty and accepts tasks like any other.
	s := NewTaskStore(p.TasksFile())
	if got := len(s.List()); got != 0 {
		t.Fatalf("expected an empty project ledger, got %d tasks", got)
	}
	task := s.Create(makeParams("project shot"))
	reloaded := NewTaskStore(p.TasksFile())
	if _, ok := reloaded.Get(task.ID); !ok {
		t.Fatal("project ledger did not persist the task")
	}
}

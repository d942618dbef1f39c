// project.go manages the on-disk project layout: a project.json config, a
// pictures folder for inputs, a videos folder for outputs, and a
// per-project task ledger.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ProjectConfig is the persisted project metadata.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	LastOpened  string `json:"last_opened"`
	Version     string `json:"version"`
}

// Project is one project folder. A project scopes its own task ledger and
// output folder, so the registry built for it only sees that project's
// jobs.
type Project struct {
	Path   string
	Config ProjectConfig
}

func (p *Project) configFile() string { return filepath.Join(p.Path, "project.json") }

// InputsFolder is where source images and videos for this project live.
func (p *Project) InputsFolder() string { return filepath.Join(p.Path, "pictures") }

// OutputsFolder is where downloaded artifacts land.
func (p *Project) OutputsFolder() string { return filepath.Join(p.Path, "videos") }

// TasksFile is the project's task ledger.
func (p *Project) TasksFile() string { return filepath.Join(p.Path, "tasks.json") }

// CreateProject builds the folder structure at path and writes the project
// config and an empty task ledger.
func CreateProject(name, path, description string) (*Project, error) {
	now := time.Now().Format(time.RFC3339)
	p := &Project{
		Path: path,
		Config: ProjectConfig{
			Name:        name,
			Description: description,
			CreatedAt:   now,
			LastOpened:  now,
			Version:     "1.0",
		},
	}
	for _, dir := range []string{path, p.InputsFolder(), p.OutputsFolder()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create project folder %s: %w", dir, err)
		}
	}
	if err := p.saveConfig(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(p.TasksFile(), []byte("{}\n"), 0o644); err != nil {
		return nil, fmt.Errorf("create project ledger: %w", err)
	}
	return p, nil
}

// OpenProject loads an existing project and refreshes its last-opened
// timestamp.
func OpenProject(path string) (*Project, error) {
	p := &Project{Path: path}
	data, err := os.ReadFile(p.configFile())
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &p.Config); err != nil {
		return nil, fmt.Errorf("open project %s: %w", path, err)
	}
	p.Config.LastOpened = time.Now().Format(time.RFC3339)
	if err := p.saveConfig(); err != nil {
		return nil, err
	}
	return p, nil
}

// Valid reports whether the path still looks like a project.
func (p *Project) Valid() bool {
	return fileExists(p.configFile())
}

func (p *Project) saveConfig() error {
	data, err := json.MarshalIndent(p.Config, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.configFile(), data, 0o644); err != nil {
		return fmt.Errorf("save project config: %w", err)
	}
	return nil
}

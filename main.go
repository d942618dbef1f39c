// main.go wires the engine together: configuration, the DashScope client,
// the task registry, and a clean shutdown path.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		projectDir = flag.String("project", "", "project folder to open (defaults to the shared ledger under ~/.drawloong)")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if !cfg.ValidAPIKey() {
		logrus.Fatal("no API key configured; set DASHSCOPE_API_KEY or api_key in the config file")
	}
	if err := cfg.EnsureDirs(); err != nil {
		logrus.WithError(err).Fatal("failed to create data folders")
	}

	tasksFile, outputDir := cfg.TasksFile, cfg.OutputFolder
	if *projectDir != "" {
		project, err := OpenProject(*projectDir)
		if err != nil {
			logrus.WithError(err).Fatal("failed to open project")
		}
		tasksFile = project.TasksFile()
		outputDir = project.OutputsFolder()
		logrus.WithField("project", project.Config.Name).Info("project opened")
	}

	store := NewTaskStore(tasksFile)
	client := NewDashScopeClient(cfg)
	registry := NewTaskRegistry(store, client, outputDir)
	registry.Subscribe(func(taskID string) {
		if t, ok := store.Get(taskID); ok {
			logrus.WithFields(logrus.Fields{"task": taskID, "status": t.Status}).Info("task updated")
		}
	})

	resumed := registry.ResumePending()
	logrus.WithFields(logrus.Fields{"ledger": tasksFile, "monitors": resumed}).Info("engine started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logrus.Info("shutting down, stopping monitors")
	registry.Close()
}

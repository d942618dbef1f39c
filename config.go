// config.go loads engine configuration. Nothing reads ambient global state:
// the loaded Config is handed to the client and registry constructors.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

// Config is the explicit configuration for one engine instance.
type Config struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	UploadFolder string `yaml:"upload_folder"`
	OutputFolder string `yaml:"output_folder"`
	TasksFile    string `yaml:"tasks_file"`
	HTTPTimeoutS int    `yaml:"http_timeout_seconds"`
}

// DefaultConfig places engine data under ~/.drawloong, the same layout the
// desktop builds use.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".drawloong")
	return &Config{
		BaseURL:      defaultBaseURL,
		UploadFolder: filepath.Join(dataDir, "uploads"),
		OutputFolder: filepath.Join(dataDir, "downloads"),
		TasksFile:    filepath.Join(dataDir, "tasks.json"),
		HTTPTimeoutS: 60,
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file is
// fine: defaults plus the DASHSCOPE_API_KEY environment variable are a
// complete configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if key := os.Getenv("DASHSCOPE_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPTimeoutS <= 0 {
		cfg.HTTPTimeoutS = 60
	}
	return cfg, nil
}

// HTTPTimeout is the per-request timeout for remote calls.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutS) * time.Second
}

// ValidAPIKey reports whether the API key looks usable. Placeholder values
// left over from sample configs don't count.
func (c *Config) ValidAPIKey() bool {
	k := strings.TrimSpace(c.APIKey)
	return k != "" && k != "your_api_key" && k != "your_api_key_here"
}

// EnsureDirs creates the upload and output folders and the ledger's parent
// directory.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadFolder, c.OutputFolder, filepath.Dir(c.TasksFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

package server

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"interviewlab/lsp-gateway/logger"
	"interviewlab/lsp-gateway/lsp"
	"interviewlab/lsp-gateway/session"
)

// Config is the gateway configuration, loaded from a JSON file and
// overridable through the environment.
type Config struct {
	Addr          string   `json:"addr"`
	WorkspaceDir  string   `json:"workspace_dir"`
	JavaHome      string   `json:"java_home"`
	JDTHome       string   `json:"jdt_home"`
	PythonCommand []string `json:"python_command"`

	InitializeTimeoutSec int `json:"initialize_timeout_sec"`
	ForwardTimeoutSec    int `json:"forward_timeout_sec"`

	LogPath     string `json:"log_file_path"`
	LogLevel    string `json:"log_level"`
	MaxLogFiles int    `json:"max_log_files"`
}

// DefaultConfig returns the built-in defaults for a container
// deployment.
func DefaultConfig() *Config {
	return &Config{
		Addr:          ":8080",
		WorkspaceDir:  "/workspaces",
		JDTHome:       "/app/jdtls",
		PythonCommand: []string{"pylsp"},
		LogLevel:      "info",
		MaxLogFiles:   5,
	}
}

// LoadConfig reads a JSON config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file configuration with environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("WORKSPACE_DIR"); v != "" {
		c.WorkspaceDir = v
	}
	if v := os.Getenv("JAVA_HOME"); v != "" {
		c.JavaHome = v
	}
	if v := os.Getenv("JDT_HOME"); v != "" {
		c.JDTHome = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}
}

// SessionConfig maps the configured timeouts onto session defaults.
func (c *Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	if c.InitializeTimeoutSec > 0 {
		cfg.InitializeTimeout = time.Duration(c.InitializeTimeoutSec) * time.Second
	}
	if c.ForwardTimeoutSec > 0 {
		cfg.ForwardTimeout = time.Duration(c.ForwardTimeoutSec) * time.Second
	}
	return cfg
}

// LoggerConfig maps the logging fields onto the logger package.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		LogPath:     c.LogPath,
		LogLevel:    c.LogLevel,
		MaxLogFiles: c.MaxLogFiles,
	}
}

// JavaBin returns the java executable path, honoring JavaHome.
func (c *Config) JavaBin() string {
	if c.JavaHome != "" {
		return filepath.Join(c.JavaHome, "bin", "java")
	}
	return "java"
}

// ValidateJava runs `java -version` once so a missing JDK fails the
// process at startup rather than the first session.
func (c *Config) ValidateJava() error {
	out, err := exec.Command(c.JavaBin(), "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("java validation failed (%s): %v: %s", c.JavaBin(), err, out)
	}

	logger.Info(fmt.Sprintf("Java available: %s", firstLine(string(out))))

	return nil
}

// CommandResolver discovers the JDT LS installation once and returns a
// resolver that builds per-session command vectors. Discovery failures
// are fatal for the process.
func (c *Config) CommandResolver() (session.CommandResolver, error) {
	launcherJar, err := lsp.FindLauncherJar(c.JDTHome)
	if err != nil {
		return nil, err
	}

	configDir, err := lsp.JDTConfigDir(c.JDTHome)
	if err != nil {
		return nil, err
	}

	logger.Info(fmt.Sprintf("JDT LS paths resolved, launcher=%s config=%s", launcherJar, configDir))

	javaBin := c.JavaBin()
	pythonCommand := c.PythonCommand

	return func(language, workspaceDir string) ([]string, error) {
		switch language {
		case "java":
			return lsp.JavaCommand(javaBin, launcherJar, configDir, workspaceDir), nil
		case "python":
			if len(pythonCommand) == 0 {
				return nil, fmt.Errorf("python language server command not configured")
			}
			return pythonCommand, nil
		default:
			return nil, fmt.Errorf("unsupported language %q", language)
		}
	}, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}

// Package internal provides the App struct that wires all components of the
// grandma loop together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/valter-silva-au/grandma/internal/cli"
	"github.com/valter-silva-au/grandma/internal/core"
	"github.com/valter-silva-au/grandma/internal/integration"
	"github.com/valter-silva-au/grandma/internal/observability"
	"github.com/valter-silva-au/grandma/internal/storage"
	"github.com/valter-silva-au/grandma/pkg/models"
)

// App holds all service dependencies for the grandma loop.
type App struct {
	BasePath  string
	SessionID string
	LogDir    string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.Config

	// Storage layer
	Tasks       storage.TaskListStore
	Checkpoints storage.CheckpointStore
	WorkLogs    storage.WorkLogManager

	// Core services
	Guard      core.SessionGuard
	Prompts    core.PromptBuilder
	Controller *core.IterationController

	// Integration services
	Runner integration.AgentRunner

	// Observability
	InvocationLog observability.InvocationLog
}

// NewApp creates and wires all components. basePath is the supervised
// working directory containing tasks.yaml.
func NewApp(basePath string) (*App, error) {
	app := &App{
		BasePath:  basePath,
		SessionID: uuid.NewString(),
	}

	stateDir := filepath.Join(basePath, ".grandma")
	app.LogDir = filepath.Join(stateDir, "logs", app.SessionID)

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.Validate(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Storage layer ---
	app.Tasks = storage.NewTaskListStore(filepath.Join(basePath, "tasks.yaml"))
	app.Checkpoints = storage.NewCheckpointStore(filepath.Join(stateDir, "checkpoint.yaml"))
	app.WorkLogs = storage.NewWorkLogManager(
		filepath.Join(basePath, "PROGRESS.md"),
		filepath.Join(basePath, "GUIDANCE.md"),
	)

	// --- Core services ---
	app.Guard = core.NewSessionGuard(core.GuardPaths{
		LockPath:     filepath.Join(stateDir, "lock"),
		IdentityPath: filepath.Join(stateDir, "run_identity"),
		ArchiveDir:   filepath.Join(stateDir, "archive"),
		TaskListPath: filepath.Join(basePath, "tasks.yaml"),
		ProgressPath: app.WorkLogs.ProgressPath(),
		GuidancePath: app.WorkLogs.GuidancePath(),
		PromptDir:    filepath.Join(basePath, "prompts"),
	}, cfg.Agent.Command, app.WorkLogs)
	app.Prompts = core.NewPromptBuilder(filepath.Join(basePath, "prompts"))

	// --- Observability ---
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	app.InvocationLog, err = observability.NewJSONLInvocationLog(filepath.Join(stateDir, "invocations.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("opening invocation log: %w", err)
	}

	// --- Integration services ---
	app.Runner = integration.NewAgentRunner(cfg.Agent, cfg.Limits, app.LogDir, app.InvocationLog)

	// --- Controller ---
	app.Controller = core.NewIterationController(core.ControllerOptions{
		Config:       cfg,
		Tasks:        app.Tasks,
		Tracker:      app.Checkpoints,
		Runner:       app.Runner,
		Prompts:      app.Prompts,
		SessionID:    app.SessionID,
		LogDir:       app.LogDir,
		ProgressPath: app.WorkLogs.ProgressPath(),
		GuidancePath: app.WorkLogs.GuidancePath(),
		Diag:         os.Stderr,
	})

	// --- CLI wiring ---
	cli.Guard = app.Guard
	cli.Tasks = app.Tasks
	cli.Controller = app.Controller
	cli.RunConfig = app.Config
	cli.WorkLogs = app.WorkLogs
	cli.RunLogDir = app.LogDir
	cli.Checkpoints = app.Checkpoints

	return app, nil
}

// ResolveBasePath determines the supervised working directory. It checks the
// GRANDMA_HOME env var, then walks up from the current directory looking for
// tasks.yaml, falling back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("GRANDMA_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "tasks.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

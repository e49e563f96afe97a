package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/corohq/coro-agent/internal/agent"
	"github.com/corohq/coro-agent/internal/config"
	"github.com/corohq/coro-agent/internal/llm"
	"github.com/corohq/coro-agent/internal/output"
	"github.com/corohq/coro-agent/internal/sessionstore"
	"github.com/corohq/coro-agent/internal/tools"
	"github.com/corohq/coro-agent/internal/trajectory"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "resume":
		resumeCmd(os.Args[2:])
	case "trajectory":
		trajectoryCmd(os.Args[2:])
	case "version":
		fmt.Printf("coro %s (%s)\n", Version, Commit)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `coro

Usage:
  coro run [flags] <task...>
  coro resume [flags] <task...>
  coro trajectory -file <path>
  coro version

Commands:
  run         Execute a task with a fresh agent.
  resume      Execute a task on the latest saved session for an agent.
  trajectory  Print the summary of a recorded trajectory file.
  version     Print build information.

`)
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

type runFlags struct {
	cfgPath    string
	provider   string
	project    string
	trajPath   string
	save       bool
	logLevel   string
	logFormat  string
	maxSteps   int
	outputMode string
}

func addRunFlags(fs *flag.FlagSet) *runFlags {
	rf := &runFlags{}
	fs.StringVar(&rf.cfgPath, "config", config.DefaultConfigPath(), "Config file path")
	fs.StringVar(&rf.provider, "provider", "", "Provider id (default: config default_provider)")
	fs.StringVar(&rf.project, "project", "", "Project path given to the agent (default: working directory)")
	fs.StringVar(&rf.trajPath, "trajectory", "", "Trajectory file path (default: auto-named in trajectory_dir when set)")
	fs.BoolVar(&rf.save, "save-session", false, "Save a session snapshot after the run")
	fs.StringVar(&rf.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&rf.logFormat, "log-format", "text", "Log format: json|text")
	fs.IntVar(&rf.maxSteps, "max-steps", 0, "Override agent max_steps")
	fs.StringVar(&rf.outputMode, "output-mode", "", "Output mode: normal|debug")
	return rf
}

func buildEngine(rf *runFlags, log *slog.Logger) (*agent.Engine, *config.Config, error) {
	cfg, err := config.Load(filepath.Clean(rf.cfgPath))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if rf.maxSteps > 0 {
		cfg.Agent.MaxSteps = rf.maxSteps
	}
	if rf.outputMode != "" {
		cfg.Agent.OutputMode = config.OutputMode(rf.outputMode)
	}

	provider, err := cfg.ResolveProvider(rf.provider)
	if err != nil {
		return nil, nil, err
	}
	client, err := llm.NewClient(provider)
	if err != nil {
		return nil, nil, err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, cfg.Agent.Tools); err != nil {
		return nil, nil, err
	}

	var recorder *trajectory.Recorder
	switch {
	case strings.TrimSpace(rf.trajPath) != "":
		recorder = trajectory.NewRecorderWithFile(rf.trajPath)
	case strings.TrimSpace(cfg.TrajectoryDir) != "":
		recorder = trajectory.NewRecorderInDir(cfg.TrajectoryDir)
	}

	project := strings.TrimSpace(rf.project)
	if project == "" {
		if wd, err := os.Getwd(); err == nil {
			project = wd
		}
	}

	eng, err := agent.NewEngine(agent.EngineParams{
		Config:      cfg.Agent,
		Client:      client,
		Registry:    registry,
		Output:      output.NewCLI(cfg.Agent.OutputMode, log),
		Recorder:    recorder,
		Logger:      log,
		ProjectPath: project,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

// executeWithSignals runs the task, turning the first SIGINT into a
// cooperative cancel and a second one into a hard exit.
func executeWithSignals(eng *agent.Engine, task string) (*agent.Execution, error) {
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	go func() {
		<-stop
		eng.Cancel()
		<-stop
		fmt.Fprintln(os.Stderr, "forced exit")
		os.Exit(130)
	}()

	return eng.ExecuteTask(context.Background(), task)
}

func saveSession(cfg *config.Config, eng *agent.Engine, task string, log *slog.Logger) {
	stateDir := strings.TrimSpace(cfg.StateDir)
	if stateDir == "" {
		stateDir = config.DefaultStateDir()
	}
	store, err := sessionstore.Open(filepath.Join(stateDir, "sessions.db"))
	if err != nil {
		log.Warn("session store unavailable", "error", err)
		return
	}
	defer store.Close()

	snap := eng.Export()
	data, err := snap.Marshal()
	if err != nil {
		log.Warn("snapshot encode failed", "error", err)
		return
	}
	if _, err := store.SaveSnapshot(context.Background(), eng.ID(), snap.AgentType, task, string(data)); err != nil {
		log.Warn("snapshot save failed", "error", err)
		return
	}
	log.Info("session saved", "agent_id", eng.ID())
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	rf := addRunFlags(fs)
	_ = fs.Parse(args)

	task := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if task == "" {
		fmt.Fprintln(os.Stderr, "missing task")
		os.Exit(2)
	}
	log := setupLogger(rf.logLevel, rf.logFormat)

	eng, cfg, err := buildEngine(rf, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	exec, err := executeWithSignals(eng, task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if rf.save {
		saveSession(cfg, eng, task, log)
	}
	os.Exit(exitCode(exec))
}

func resumeCmd(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	rf := addRunFlags(fs)
	agentID := fs.String("agent", "", "Agent id to resume (default: most recently saved)")
	_ = fs.Parse(args)

	task := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if task == "" {
		fmt.Fprintln(os.Stderr, "missing task")
		os.Exit(2)
	}
	log := setupLogger(rf.logLevel, rf.logFormat)

	eng, cfg, err := buildEngine(rf, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	stateDir := strings.TrimSpace(cfg.StateDir)
	if stateDir == "" {
		stateDir = config.DefaultStateDir()
	}
	store, err := sessionstore.Open(filepath.Join(stateDir, "sessions.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	id := strings.TrimSpace(*agentID)
	if id == "" {
		agents, err := store.ListAgents(context.Background())
		if err != nil || len(agents) == 0 {
			fmt.Fprintln(os.Stderr, "no saved sessions")
			os.Exit(1)
		}
		id = agents[0]
	}
	rec, err := store.LatestSnapshot(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	snap, err := agent.UnmarshalSnapshot([]byte(rec.SnapshotJSON))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := eng.Restore(snap); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log.Info("session restored", "agent_id", id, "messages", len(snap.ConversationHistory))

	exec, err := executeWithSignals(eng, task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if rf.save {
		saveSession(cfg, eng, task, log)
	}
	os.Exit(exitCode(exec))
}

func trajectoryCmd(args []string) {
	fs := flag.NewFlagSet("trajectory", flag.ExitOnError)
	file := fs.String("file", "", "Trajectory file path")
	_ = fs.Parse(args)

	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(2)
	}
	doc, err := trajectory.Load(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	meta := doc.Metadata()
	fmt.Printf("trajectory %s\n", meta.ID)
	fmt.Printf("  task:     %s\n", meta.Task)
	fmt.Printf("  entries:  %d\n", len(doc.Entries))
	fmt.Printf("  steps:    %d\n", meta.Steps)
	fmt.Printf("  duration: %dms\n", meta.DurationMs)
	if meta.Success != nil {
		fmt.Printf("  success:  %v\n", *meta.Success)
	}
}

func exitCode(exec *agent.Execution) int {
	switch exec.State {
	case agent.StateCompleted:
		return 0
	case agent.StateInterrupted:
		return 130
	default:
		return 1
	}
}

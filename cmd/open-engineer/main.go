package main

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/for-yt-video/open-engineer/internal/config"
	"github.com/for-yt-video/open-engineer/internal/ingest"
	"github.com/for-yt-video/open-engineer/internal/llm"
	"github.com/for-yt-video/open-engineer/internal/logging"
	"github.com/for-yt-video/open-engineer/internal/project"
	"github.com/for-yt-video/open-engineer/internal/session"
	"github.com/for-yt-video/open-engineer/internal/tui"
	"github.com/for-yt-video/open-engineer/internal/ui"
)

//go:embed system_prompt.txt
var systemPrompt string

type flags struct {
	projectDir  string
	newProject  bool
	projectsDir string
	model       string
	budget      int
	configPath  string
	yes         bool
}

func parseFlags() *flags {
	f := &flags{}
	pflag.StringVarP(&f.projectDir, "project", "p", "", "Existing project directory to work in (default: current directory).")
	pflag.BoolVarP(&f.newProject, "new", "n", false, "Start a new project: ask for a description and create a named directory.")
	pflag.StringVar(&f.projectsDir, "projects-dir", "projects", "Parent directory for new projects.")
	pflag.StringVarP(&f.model, "model", "m", "", "Override the configured chat model.")
	pflag.IntVar(&f.budget, "budget", 0, "Override the configured context token budget.")
	pflag.StringVarP(&f.configPath, "config", "c", "", "Path to a config file (default: ~/.config/open-engineer/config.json).")
	pflag.BoolVarP(&f.yes, "yes", "y", false, "Apply proposed changes without the interactive review.")

	pflag.Usage = func() {
		fmt.Println("Usage: open-engineer [flags]")
		fmt.Println("\nInteractive AI pair programmer. Type a request, review the proposed")
		fmt.Println("file changes, and approve or reject them per file.")
		fmt.Println("\nCommands inside the session:")
		fmt.Println("  /add <path>    track a file (content read from disk now)")
		fmt.Println("  /drop <path>   stop tracking a file")
		fmt.Println("  /files         list tracked files")
		fmt.Println("  /paste         apply file blocks from the clipboard")
		fmt.Println("  /exit          quit")
		fmt.Println("\nFlags:")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	return f
}

func main() {
	f := parseFlags()

	log := logging.Get()
	defer log.Close()

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		ui.Error("config: %v", err)
		os.Exit(1)
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.budget > 0 {
		cfg.ContextBudget = f.budget
	}

	client := llm.NewClient(cfg.BaseURL, cfg.APIKey)

	root, err := resolveRoot(f, cfg, client)
	if err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}

	sess := session.New(session.Options{
		Root:     root,
		Model:    cfg.Model,
		System:   systemPrompt,
		Budget:   cfg.ContextBudget,
		MinTurns: cfg.HistoryKeep,
		Streamer: client,
		Approver: &tui.Reviewer{AutoApprove: f.yes},
		OnToken:  func(text string) { fmt.Print(text) },
	})

	ui.Header("open-engineer · %s · %s", cfg.Model, root)
	ui.Faint("type /help for commands, /exit to quit")
	log.Info("session started: model=%s root=%s budget=%d", cfg.Model, root, cfg.ContextBudget)

	repl(sess)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// resolveRoot picks the project directory: --project as given, --new via the
// naming flow, otherwise the current directory.
func resolveRoot(f *flags, cfg *config.Config, client *llm.Client) (string, error) {
	if f.projectDir != "" {
		info, err := os.Stat(f.projectDir)
		if err != nil {
			return "", fmt.Errorf("project dir: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("project dir %s is not a directory", f.projectDir)
		}
		return f.projectDir, nil
	}

	if f.newProject {
		fmt.Print("Describe your project: ")
		reader := bufio.NewReader(os.Stdin)
		description, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		model := cfg.NamingModel
		if model == "" {
			model = cfg.Model
		}
		name := project.Name(context.Background(), client, model, strings.TrimSpace(description))
		dir, err := project.Bootstrap(f.projectsDir, name)
		if err != nil {
			return "", fmt.Errorf("create project dir: %w", err)
		}
		ui.Success("Created project directory %s", dir)
		return dir, nil
	}

	return ".", nil
}

func repl(sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for {
		fmt.Print("\nYou> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if handleCommand(sess, input) {
				return
			}
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}

		runTurn(sess, input)
	}
}

// handleCommand dispatches a slash command. Returns true when the session
// should end.
func handleCommand(sess *session.Session, input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/exit", "/quit":
		return true

	case "/help":
		pflag.Usage()

	case "/add":
		if arg == "" {
			ui.Warning("usage: /add <path>")
			return false
		}
		if err := sess.AddFile(arg); err != nil {
			ui.Error("add %s: %v", arg, err)
			return false
		}
		ui.Success("Tracking %s", arg)

	case "/drop":
		if arg == "" {
			ui.Warning("usage: /drop <path>")
			return false
		}
		if err := sess.RemoveFile(arg); err != nil {
			ui.Error("drop %s: %v", arg, err)
			return false
		}
		ui.Success("Dropped %s", arg)

	case "/files":
		files := sess.Store().Snapshot()
		if len(files) == 0 {
			ui.Faint("no files tracked")
			return false
		}
		for _, tf := range files {
			ui.Info("  %-9s %s", tf.Origin, tf.Path)
		}

	case "/paste":
		ops, commentary, err := ingest.FromClipboard()
		if err != nil {
			ui.Error("paste: %v", err)
			return false
		}
		if commentary != "" {
			fmt.Println(commentary)
		}
		if len(ops) == 0 {
			ui.Warning("no file blocks found in clipboard")
			return false
		}
		report, err := sess.ApplyOps(context.Background(), ops)
		if err != nil {
			ui.Error("%v", err)
			return false
		}
		printReport(report)

	default:
		ui.Warning("unknown command %s", cmd)
	}
	return false
}

func runTurn(sess *session.Session, input string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := sess.RunTurn(ctx, input)
	if err != nil {
		if errors.Is(err, session.ErrTurnInFlight) {
			ui.Warning("still working on the previous turn")
			return
		}
		ui.Error("%v", err)
		return
	}
	fmt.Println()
	printReport(report)
}

func printReport(r *session.TurnReport) {
	for _, p := range r.AutoAdded {
		ui.Faint("tracked %s (mentioned in your message)", p)
	}
	ui.PrintOmissions(r.OmittedFiles, r.DroppedTurns)

	if r.Failed() {
		switch r.Failure {
		case session.FailCancelled:
			ui.Warning("Turn cancelled; no files were changed.")
		case session.FailDataIntegrity:
			ui.Error("DATA INTEGRITY: rollback failed, inspect these paths by hand: %v", r.Err)
		default:
			path := r.FailedPath
			if path == "" {
				path = "-"
			}
			ui.Error("%s (%s): %v", r.Failure, path, r.Err)
			if r.Restored {
				ui.Warning("all changes were rolled back")
			}
		}
		return
	}

	for _, u := range r.Unresolved {
		ui.Warning("skipped %s (%s): needs manual resolution", u.Op.Path, u.Reason)
	}
	for _, p := range r.Rejected {
		ui.Faint("rejected %s", p)
	}
	if len(r.Applied) > 0 {
		ui.PrintApplied(r.Applied)
	}
}

// Command scout is an interactive coding agent for the terminal. It sends
// user requests to a remote model, executes the tool calls the model asks
// for under confirmation gating, and prints the final answer. Run with a
// prompt argument for a single non-interactive exchange, or with no
// arguments for a REPL.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/scoutagent/scout/agent"
	"github.com/scoutagent/scout/ignore"
	"github.com/scoutagent/scout/llm"
	"github.com/scoutagent/scout/session"
	"github.com/scoutagent/scout/snapshot"
	"github.com/scoutagent/scout/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scout: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		model   = flag.String("m", "", "model id or alias (pro, flash)")
		debug   = flag.Bool("debug", false, "enable debug logging and event output")
		yolo    = flag.Bool("yolo", false, "auto-approve all tool calls")
		envFile = flag.String("env-file", "", "load environment variables from this file")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("loading %s: %w", *envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	root, err := os.Getwd()
	if err != nil {
		return err
	}

	loop, cleanup, err := buildLoop(root, *model, *yolo, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	app := &cli{loop: loop, debug: *debug, out: os.Stdout}
	go app.drainEvents()

	if prompt := strings.TrimSpace(strings.Join(flag.Args(), " ")); prompt != "" {
		return app.runOnce(prompt)
	}
	return app.repl()
}

// buildLoop assembles the full stack: environment, tools, snapshots,
// model client, session store.
func buildLoop(root, model string, yolo bool, logger *slog.Logger) (*agent.Loop, func(), error) {
	filter, err := ignore.NewFilter(root)
	if err != nil {
		return nil, nil, fmt.Errorf("loading ignore rules: %w", err)
	}
	env, err := tools.NewLocalEnvironment(root, filter)
	if err != nil {
		return nil, nil, err
	}

	snapshots, err := snapshot.NewManager(root, logger)
	if err != nil {
		logger.Warn("snapshots unavailable, mutations will not be checkpointed", "error", err)
		snapshots = nil
	}

	memory, err := tools.NewMemoryStore("")
	if err != nil {
		return nil, nil, err
	}

	registry := tools.NewRegistry()
	tools.RegisterCoreTools(registry, tools.CoreToolsConfig{
		Memory: memory,
		Search: tools.NewGoogleCustomSearch(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GOOGLE_CSE_ID")),
	})

	var confirmer tools.Confirmer
	if !yolo {
		confirmer = &terminalConfirmer{in: os.Stdin, out: os.Stdout}
	}
	scheduler := tools.NewScheduler(registry, env, snapshots, confirmer, logger)

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, err
	}
	store, err := session.NewStore(filepath.Join(home, ".scout", "session.yaml"))
	if err != nil {
		return nil, nil, err
	}

	client, err := llm.NewGollmClient("google", llm.WithAPIKey(os.Getenv("GEMINI_API_KEY")))
	if err != nil {
		return nil, nil, fmt.Errorf("creating model client: %w", err)
	}
	controller := llm.NewController(client, llm.DefaultRetryPolicy(), llm.DefaultFallbackPolicy())

	memoryFiles, err := memory.Discover(root, filter)
	if err != nil {
		logger.Warn("context file discovery failed", "error", err)
	}
	prompt := agent.BuildSystemPrompt(env, registry, tools.Concatenate(memoryFiles))

	loop, err := agent.NewLoop(agent.Options{
		Config:       agent.DefaultConfig(),
		Controller:   controller,
		Registry:     registry,
		Scheduler:    scheduler,
		Snapshots:    snapshots,
		Store:        store,
		Logger:       logger,
		SystemPrompt: prompt,
	})
	if err != nil {
		return nil, nil, err
	}

	if model != "" {
		if _, err := loop.SetModel(model); err != nil {
			loop.Close()
			return nil, nil, err
		}
	}
	return loop, loop.Close, nil
}

type cli struct {
	loop  *agent.Loop
	debug bool
	out   *os.File
}

// drainEvents prints loop events as they arrive. Tool calls and fallback
// switches are always shown; the rest only in debug mode.
func (c *cli) drainEvents() {
	for ev := range c.loop.Events() {
		switch ev.Kind {
		case agent.EventToolCallStart:
			fmt.Fprintf(c.out, "  -> %v\n", ev.Data["tool"])
		case agent.EventFallbackSwitch:
			fmt.Fprintf(c.out, "  !! rate limited, switching model: %v -> %v\n", ev.Data["from"], ev.Data["to"])
		case agent.EventLoopDetection:
			fmt.Fprintf(c.out, "  !! %v\n", ev.Data["message"])
		case agent.EventWarning:
			fmt.Fprintf(c.out, "  !! %v\n", ev.Data["message"])
		default:
			if c.debug {
				fmt.Fprintf(c.out, "  [%s] %v\n", ev.Kind, ev.Data)
			}
		}
	}
}

// runOnce handles a single non-interactive prompt.
func (c *cli) runOnce(prompt string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := c.loop.RunTurn(ctx, prompt)
	if err != nil {
		return err
	}
	c.printOutcome(out)
	if out.Kind == agent.OutcomeFailed {
		os.Exit(1)
	}
	return nil
}

// repl runs the interactive read/execute loop.
func (c *cli) repl() error {
	fmt.Fprintf(c.out, "scout (%s) in %s\n", c.loop.ActiveModel(), mustGetwd())
	fmt.Fprintln(c.out, `Type a request, "/help" for commands, "quit" to leave.`)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprint(c.out, "> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintln(c.out)
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			return nil
		}
		if strings.HasPrefix(input, "/") {
			if err := c.handleCommand(input); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			continue
		}

		// Ctrl-C interrupts the current exchange, not the REPL.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		out, err := c.loop.RunTurn(ctx, input)
		stop()
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		c.printOutcome(out)
	}
}

func (c *cli) handleCommand(input string) error {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Fprint(c.out, `Commands:
  /reset        clear the conversation and start a new session
  /stats        show token usage and active model
  /debug        toggle debug event output
  /m <model>    switch model (pro, flash)
  quit, exit    leave
`)
	case "/reset":
		if err := c.loop.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "session cleared")
	case "/debug":
		c.debug = !c.debug
		fmt.Fprintf(c.out, "debug output %v\n", c.debug)
	case "/stats":
		u := c.loop.Usage()
		fmt.Fprintf(c.out, "model: %s (fallback active: %v)\n", c.loop.ActiveModel(), c.loop.FallbackActive())
		fmt.Fprintf(c.out, "tokens: %d in, %d out, %d total\n", u.InputTokens, u.OutputTokens, u.TotalTokens)
	case "/m":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /m <model>")
		}
		id, err := c.loop.SetModel(fields[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "model set to %s\n", id)
	default:
		return fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return nil
}

func (c *cli) printOutcome(out agent.Outcome) {
	switch out.Kind {
	case agent.OutcomeCompleted:
		fmt.Fprintf(c.out, "\n%s\n", out.Text)
	case agent.OutcomeDidNotConverge:
		fmt.Fprintf(c.out, "\n%s\n", out.Text)
	case agent.OutcomeInterrupted:
		fmt.Fprintln(c.out, "\ninterrupted")
	case agent.OutcomeFailed:
		fmt.Fprintf(c.out, "\n%s\n", out.Text)
	}
}

// terminalConfirmer prompts y/n/a on the controlling terminal for gated
// tool calls, showing the proposed diff when there is one.
type terminalConfirmer struct {
	in  *os.File
	out *os.File
}

func (t *terminalConfirmer) Confirm(ctx context.Context, req tools.ConfirmationRequest) (tools.Outcome, error) {
	fmt.Fprintf(t.out, "\nTool %s wants to run with:\n", req.ToolName)
	for k, v := range req.Args {
		fmt.Fprintf(t.out, "  %s: %v\n", k, v)
	}
	if req.Diff != "" {
		fmt.Fprintf(t.out, "\n%s\n", req.Diff)
	}

	// Without a terminal there is nobody to ask; deny rather than guess.
	if !term.IsTerminal(int(t.in.Fd())) {
		fmt.Fprintln(t.out, "no terminal attached, denying")
		return tools.Cancel, nil
	}

	reader := bufio.NewReader(t.in)
	for {
		select {
		case <-ctx.Done():
			return tools.Cancel, ctx.Err()
		default:
		}
		fmt.Fprint(t.out, "Proceed? [y]es / [n]o / [a]lways for this tool: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return tools.Cancel, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return tools.ProceedOnce, nil
		case "a", "always":
			return tools.ProceedAlways, nil
		case "n", "no", "":
			return tools.Cancel, nil
		}
	}
}

func mustGetwd() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

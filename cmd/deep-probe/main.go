// Command deep-probe runs deep research from the terminal.
//
// Usage:
//
//	deep-probe research "What is quantum computing?" [--save report.md]
//	deep-probe resume <interaction-id>
//	deep-probe history
//	deep-probe config
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/deep-probe/internal/config"
	"github.com/tjfontaine/deep-probe/internal/report"
	"github.com/tjfontaine/deep-probe/internal/storage/sqlite"
	"github.com/tjfontaine/deep-probe/internal/telemetry"
	"github.com/tjfontaine/deep-probe/pkg/deepprobe"
)

const version = "1.0.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "research":
		os.Exit(runResearch(os.Args[2:]))
	case "resume":
		os.Exit(runResume(os.Args[2:]))
	case "history":
		os.Exit(runHistory(os.Args[2:]))
	case "config":
		printConfigHelp()
	case "version", "--version", "-v":
		fmt.Printf("deep-probe version %s\n", version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `deep-probe - research anything, deeply, in one line.

Commands:
  research <topic>   Run deep research on a topic
  resume <id>        Resume a previous research by interaction ID
  history            List past research sessions
  config             Show configuration instructions
  version            Show version`)
}

type commonFlags struct {
	configPath string
	apiKey     string
	save       string
	quiet      bool
	verbose    bool
	trace      bool
}

func registerCommon(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVar(&f.configPath, "config", "", "path to config.yaml")
	fs.StringVar(&f.apiKey, "api-key", "", "API key (overrides configuration)")
	fs.StringVar(&f.save, "save", "", "save report to file")
	fs.BoolVar(&f.quiet, "quiet", false, "only output the final report")
	fs.BoolVar(&f.verbose, "verbose", false, "show thinking process and details")
	fs.BoolVar(&f.trace, "trace", false, "emit OpenTelemetry traces to stdout")
}

func runResearch(args []string) int {
	fs := flag.NewFlagSet("research", flag.ExitOnError)
	var f commonFlags
	registerCommon(fs, &f)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: research requires exactly one topic argument")
		return 2
	}
	topic := fs.Arg(0)

	return runSession(f, func(ctx context.Context, probe *deepprobe.Client, h deepprobe.Handlers) (*deepprobe.Result, error) {
		if !f.quiet {
			fmt.Fprintf(os.Stderr, "Researching: %s\n\n", topic)
		}
		return probe.ResearchWithHandlers(ctx, topic, h)
	})
}

func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	var f commonFlags
	registerCommon(fs, &f)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: resume requires exactly one interaction ID argument")
		return 2
	}
	id := fs.Arg(0)

	return runSession(f, func(ctx context.Context, probe *deepprobe.Client, h deepprobe.Handlers) (*deepprobe.Result, error) {
		if !f.quiet {
			fmt.Fprintf(os.Stderr, "Resuming research: %s\n\n", report.TruncateID(id, 16))
		}
		return probe.ResumeWithHandlers(ctx, id, h)
	})
}

func runSession(f commonFlags, drive func(context.Context, *deepprobe.Client, deepprobe.Handlers) (*deepprobe.Result, error)) int {
	logger := newLogger(f.verbose)

	if f.trace {
		shutdown, err := telemetry.InitTracer("deep-probe", logger)
		if err != nil {
			logger.Error("failed to initialize tracer", slog.String("error", err.Error()))
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	opts := []deepprobe.Option{deepprobe.WithLogger(logger)}
	if f.configPath != "" {
		opts = append(opts, deepprobe.WithConfigFile(f.configPath))
	}
	if f.apiKey != "" {
		opts = append(opts, deepprobe.WithAPIKey(f.apiKey))
	}

	probe, err := deepprobe.New(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer probe.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers := deepprobe.Handlers{}
	if !f.quiet {
		handlers.OnText = func(text string) {
			fmt.Print(text)
		}
	}
	if f.verbose && !f.quiet {
		handlers.OnThought = func(thought string) {
			fmt.Fprintf(os.Stderr, "\n[thinking] %s\n", thought)
		}
	}

	started := time.Now()
	result, err := drive(ctx, probe, handlers)
	if err != nil {
		return reportError(err)
	}

	displayResult(result, f, time.Since(started))
	return 0
}

func reportError(err error) int {
	fmt.Fprintf(os.Stderr, "\nError: %v\n", err)

	var perr *deepprobe.ProbeError
	if errors.As(err, &perr) {
		if perr.InteractionID != "" {
			fmt.Fprintf(os.Stderr, "Resume with: deep-probe resume %s\n", perr.InteractionID)
		}
		if perr.Partial != nil && perr.Partial.Report != "" {
			fmt.Fprintf(os.Stderr, "Partial report (%d characters) was accumulated before the failure.\n",
				len(perr.Partial.Report))
		}
		if perr.Kind == deepprobe.ErrorKindCancelled {
			return 130
		}
	}
	return 1
}

func displayResult(result *deepprobe.Result, f commonFlags, elapsed time.Duration) {
	if f.quiet {
		fmt.Println(result.Report)
		return
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Research completed")
	fmt.Fprintf(os.Stderr, "  Interaction ID: %s\n", result.InteractionID)
	fmt.Fprintf(os.Stderr, "  Status: %s\n", result.Status)
	fmt.Fprintf(os.Stderr, "  Elapsed: %s\n", report.FormatDuration(elapsed))
	if result.Usage.Estimated {
		fmt.Fprintf(os.Stderr, "  Tokens: ~%d (estimated)\n", result.Usage.TotalTokens)
	} else {
		fmt.Fprintf(os.Stderr, "  Tokens: %d\n", result.Usage.TotalTokens)
	}

	if f.save != "" {
		if err := report.Save(result, f.save); err != nil {
			fmt.Fprintf(os.Stderr, "  Failed to save report: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "  Saved to: %s\n", f.save)
		}
	}

	if f.verbose {
		if headings := report.ExtractHeadings(result.Report, 3); len(headings) > 0 {
			fmt.Fprintln(os.Stderr, "\nOutline:")
			for _, h := range headings {
				fmt.Fprintf(os.Stderr, "  %s%s\n", indent(h.Level), h.Text)
			}
		}
		if links := report.ExtractLinks(result.Report); len(links) > 0 {
			fmt.Fprintf(os.Stderr, "\n%d links in report body\n", len(links))
		}
	}

	if len(result.Sources) > 0 {
		fmt.Fprintf(os.Stderr, "\nSources (%d):\n", len(result.Sources))
		shown := result.Sources
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for i, source := range shown {
			title := source.Title
			if title == "" {
				title = source.URL
			}
			fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, title)
		}
		if len(result.Sources) > 10 {
			fmt.Fprintf(os.Stderr, "  ... and %d more\n", len(result.Sources)-10)
		}
	}
}

func indent(level int) string {
	switch level {
	case 1:
		return ""
	case 2:
		return "  "
	default:
		return "    "
	}
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var configPath string
	var limit int
	fs.StringVar(&configPath, "config", "", "path to config.yaml")
	fs.IntVar(&limit, "limit", 20, "maximum sessions to list")
	fs.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Journal.Path == "" {
		fmt.Fprintln(os.Stderr, "Research journal is disabled (journal.path is empty)")
		return 1
	}

	store, err := sqlite.New(cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := store.List(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Println("No research sessions recorded yet.")
		return 0
	}

	for _, rec := range records {
		id := rec.InteractionID
		if id == "" {
			id = "(no interaction id)"
		} else {
			id = report.TruncateID(id, 16)
		}
		fmt.Printf("%s  %-12s  %-19s  %s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			rec.Status, id, rec.Topic)
	}
	return 0
}

func printConfigHelp() {
	fmt.Println(`Configuration

Set your deep research API key:

  export DEEP_RESEARCH_API_KEY='your-api-key'

Or create a .env file:

  DEEP_RESEARCH_API_KEY=your-api-key

Or a config.yaml:

  api:
    key: ${DEEP_RESEARCH_API_KEY}
  thinking: true
  connection:
    liveness_window: 120s
    total_timeout: 60m

Environment variables prefixed with PROBE_ override the file, for example
PROBE_CONNECTION__TOTAL_TIMEOUT=30m.`)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/blockcar/vehicled/internal/config"
	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/log"
	"github.com/blockcar/vehicled/internal/sandbox"
	"github.com/blockcar/vehicled/internal/supervisor"
)

// runResult is the --json rendering of a local run.
type runResult struct {
	Success     bool     `json:"success"`
	Error       string   `json:"error,omitempty"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	Output      []string `json:"output"`
	ExecutionID string   `json:"execution_id"`
	Digest      string   `json:"digest,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
	Journal     []string `json:"journal"`
}

func readScript(arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

// runScript executes one script against a fresh simulator and prints what
// it printed, then the hardware calls it made.
func runScript(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	timeout := fs.Duration("timeout", 0, "Execution timeout (default from config)")
	jsonOut := fs.Bool("json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: vehicled run [--config PATH] [--timeout D] [--json] <script|->")
		return 1
	}

	source, err := readScript(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetOutput(os.Stderr)
	log.Setup("warn")

	sim := hal.NewSimulator(simulatorConfig(cfg))
	sup := supervisor.New(sim, supervisorConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := sup.StartExecution(ctx, supervisor.Request{Source: source, Timeout: *timeout})

	if *jsonOut {
		res := runResult{
			Success:     rec.Success,
			Error:       rec.ErrorMessage(),
			ErrorKind:   string(rec.Kind()),
			Output:      rec.Output,
			ExecutionID: rec.ID,
			Digest:      rec.Digest,
			DurationMS:  rec.Duration.Milliseconds(),
			Journal:     sim.Journal(),
		}
		if res.Output == nil {
			res.Output = []string{}
		}
		if res.Journal == nil {
			res.Journal = []string{}
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, line := range rec.Output {
			fmt.Println(line)
		}
		for _, call := range sim.Journal() {
			fmt.Fprintf(os.Stderr, "hw: %s\n", call)
		}
		if !rec.Success {
			fmt.Fprintf(os.Stderr, "%s\n", rec.ErrorMessage())
		} else {
			fmt.Fprintf(os.Stderr, "ok in %s\n", rec.Duration.Round(time.Millisecond))
		}
	}

	if !rec.Success {
		return 1
	}
	return 0
}

// runCheck compiles a script and reports its digest and the names it uses.
// Names the stock namespace does not bind are warnings: they only fail
// when execution reaches them.
func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: vehicled check [--config PATH] <script|->")
		return 1
	}

	source, err := readScript(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetOutput(os.Stderr)
	log.Setup("warn")

	unit, err := sandbox.Compile(source, sandbox.CompileOptions{MaxSourceBytes: cfg.Execution.MaxSourceBytes})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ns := sandbox.BuildNamespace(hal.NewSimulator(simulatorConfig(cfg)), sandbox.NewOutputBuffer(0, nil), sandbox.NamespaceOptions{})
	fmt.Printf("digest: %s\n", unit.Digest())
	warnings := 0
	for _, name := range unit.FreeNames() {
		if _, ok := ns.Lookup(name); ok {
			fmt.Printf("uses: %s\n", name)
			continue
		}
		fmt.Printf("unknown: %s\n", name)
		warnings++
	}
	if unit.Empty() {
		fmt.Println("script is empty")
	}
	if warnings > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d name(s) are not bound and will fail at run time\n", warnings)
	}
	return 0
}

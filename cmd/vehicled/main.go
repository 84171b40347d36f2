package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd, args := cliArgs[0], cliArgs[1:]
	switch cmd {
	case "start":
		return runStart(args)
	case "run":
		return runScript(args)
	case "check":
		return runCheck(args)
	case "watch":
		return runWatch(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println("Usage: vehicled <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  start               Run the daemon (HTTP API + simulated vehicle)")
	fmt.Println("  run <script>        Execute a script locally against the simulator")
	fmt.Println("  check <script>      Compile a script without running it")
	fmt.Println("  watch               Operator console for a running daemon")
	fmt.Println("  config check        Load and validate the configuration")
	fmt.Println("  version             Print version information")
	fmt.Println()
	fmt.Println("Use \"-\" as <script> to read from stdin.")
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: vehicled version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("vehicled %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

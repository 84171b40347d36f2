package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/blockcar/vehicled/internal/config"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vehicled config check [--config PATH]")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	source := cfg.SourceFile
	if source == "" {
		source = "(built-in defaults)"
	}
	fmt.Printf("Configuration valid: %s\n", source)
	if cfg.SourceHash != "" {
		fmt.Printf("  blake3: %s\n", cfg.SourceHash)
	}
	fmt.Printf("  vehicle: %s\n", cfg.Vehicle.ID)
	fmt.Printf("  driver: %s\n", cfg.Hardware.Driver)
	if cfg.API.Enabled {
		fmt.Printf("  api: %s (auth %t)\n", cfg.API.Listen, cfg.API.Auth.APIKey != "")
	} else {
		fmt.Println("  api: disabled")
	}
	fmt.Printf("  timeout: default %s, max %s\n", cfg.Execution.DefaultTimeout, cfg.Execution.MaxTimeout)
	return 0
}

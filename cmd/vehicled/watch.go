package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/blockcar/vehicled/internal/tui/watch"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8000", "vehicled API base URL")
	apiKey := fs.String("api-key", os.Getenv("VEHICLED_API_KEY"), "API key (default $VEHICLED_API_KEY)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if err := watch.Run(watch.NewClient(*apiURL, *apiKey)); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}

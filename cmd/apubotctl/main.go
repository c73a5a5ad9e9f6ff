package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mapus/apubot/internal/cli/apubotctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("APUBOT_CLI_TIMEOUT")), 2*time.Minute)
	options := apubotctl.Options{
		BaseURL: envOr("APUBOT_API_URL", "http://localhost:10000"),
		From:    strings.TrimSpace(os.Getenv("APUBOT_CLI_FROM")),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := apubotctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid APUBOT_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiFlag     string
	timeoutFlag time.Duration
	rootCmd     = &cobra.Command{
		Use:           "crmctl",
		Short:         "CLI client for the Zero-Click CRM REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func client() *apiClient { return newAPIClient(apiFlag, timeoutFlag) }

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", envOr("ZAPPY_API_URL", "http://localhost:8080"), "CRM service base URL")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 2*time.Minute, "Request timeout")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

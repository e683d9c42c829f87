// Package cli implements docctl, the command line client of the documents API.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/school-docs/internal/adapters/apiclient"
	"github.com/kirillkom/school-docs/internal/infrastructure/resilience"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "docctl",
	Short:         "Upload school documents and inspect their classification",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "docctl %s\n", Version)
	},
}

var (
	flagAPIURL  string
	flagToken   string
	flagTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", envOr("DOCS_API_URL", "http://localhost:8080"), "Documents API base URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("API_AUTH_TOKEN"), "Bearer token for status updates")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "Per-request timeout")
}

func Execute() error {
	return rootCmd.Execute()
}

func newClient() *apiclient.Client {
	return apiclient.New(apiclient.Config{
		BaseURL:   flagAPIURL,
		AuthToken: flagToken,
		Timeout:   flagTimeout,
	}, resilience.NewExecutor(resilience.DefaultConfig()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

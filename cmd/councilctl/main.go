// Package main implements councilctl, a CLI for the councild HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/fyrsmithlabs/council/internal/http"
)

var (
	serverURL     string
	corporationID string
	timeout       time.Duration

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "councilctl",
	Short: "CLI for the council advisory server",
	Long: `councilctl talks to a running councild over HTTP. It asks the council
questions, rates past sessions, manages monthly review cycles and inspects
mined patterns.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "councild server URL")
	rootCmd.PersistentFlags().StringVar(&corporationID, "corp", os.Getenv("COUNCIL_CORPORATION_ID"), "corporation ID (default $COUNCIL_CORPORATION_ID)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Minute, "request timeout")

	rootCmd.AddCommand(askCmd, feedbackCmd, cycleCmd, patternsCmd, decisionsCmd, healthCmd)
}

// requireCorp fails commands that address a corporation when none is set.
func requireCorp(*cobra.Command, []string) error {
	if strings.TrimSpace(corporationID) == "" {
		return fmt.Errorf("--corp is required")
	}
	return nil
}

// call sends body as JSON (when non-nil) and decodes the response into out.
// Error responses surface the server's message.
func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	url := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er apihttp.ErrorResponse
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, er.Error)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check councild health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp apihttp.HealthResponse
		if err := call(http.MethodGet, "/health", nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\nServer URL: %s\n", resp.Status, serverURL)
		return nil
	},
}

package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	apihttp "github.com/fyrsmithlabs/council/internal/http"
	"github.com/fyrsmithlabs/council/internal/memory"
)

var decisionsLimit int

func init() {
	decisionsCmd.Flags().IntVar(&decisionsLimit, "limit", 10, "number of decisions to show")
	patternsCmd.AddCommand(patternsListCmd, patternsMineCmd, patternsApplyCmd)
}

func corpPath(suffix string) string {
	return "/api/v1/corporations/" + url.PathEscape(corporationID) + suffix
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect patterns mined from rated experiences",
}

var patternsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List stored patterns",
	Args:    cobra.NoArgs,
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp apihttp.PatternsResponse
		if err := call(http.MethodGet, corpPath("/patterns"), nil, &resp); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp.Patterns)
	},
}

var patternsMineCmd = &cobra.Command{
	Use:     "mine",
	Short:   "Mine patterns from successful experiences now",
	Args:    cobra.NoArgs,
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp apihttp.PatternsResponse
		if err := call(http.MethodPost, corpPath("/patterns/mine"), nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "mined %d pattern(s)\n", len(resp.Patterns))
		return printJSON(cmd.OutOrStdout(), resp.Patterns)
	},
}

var patternsApplyCmd = &cobra.Command{
	Use:     "apply <pattern>",
	Short:   "Record that a pattern was applied",
	Args:    cobra.ExactArgs(1),
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, args []string) error {
		var p memory.MemoryPattern
		path := corpPath("/patterns/" + url.PathEscape(args[0]) + "/apply")
		if err := call(http.MethodPost, path, nil, &p); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var decisionsCmd = &cobra.Command{
	Use:     "decisions",
	Short:   "Show recent decisions, newest first",
	Args:    cobra.NoArgs,
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp apihttp.DecisionsResponse
		path := fmt.Sprintf("%s?limit=%d", corpPath("/decisions"), decisionsLimit)
		if err := call(http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp.Decisions)
	},
}

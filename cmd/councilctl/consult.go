package main

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	apihttp "github.com/fyrsmithlabs/council/internal/http"
)

var (
	askSession string
	askJSON    bool

	fbSession       string
	fbEffectiveness int
	fbOutcome       string
)

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "session ID (generated when empty)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the raw response")

	feedbackCmd.Flags().StringVar(&fbSession, "session", "", "session ID to rate")
	feedbackCmd.Flags().IntVar(&fbEffectiveness, "effectiveness", 0, "rating from 1 to 10")
	feedbackCmd.Flags().StringVar(&fbOutcome, "outcome", "", "what happened after acting on the advice")
	_ = feedbackCmd.MarkFlagRequired("session")
	_ = feedbackCmd.MarkFlagRequired("effectiveness")
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the council a strategic question",
	Long: `Ask the council a question. The question is routed to the relevant
specialists, their answers are synthesized and the decision is recorded.

Examples:
  councilctl ask --corp 98000001 "Should we expand mining into Delve?"
  councilctl ask --corp 98000001 --json "How do we raise recruitment?"`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp apihttp.ConsultResponse
		err := call(http.MethodPost, "/api/v1/consult", apihttp.ConsultRequest{
			Query:         strings.Join(args, " "),
			CorporationID: corporationID,
			SessionID:     askSession,
		}, &resp)
		if err != nil {
			return err
		}
		if askJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		printAnswer(cmd.OutOrStdout(), &resp)
		return nil
	},
}

func printAnswer(w io.Writer, resp *apihttp.ConsultResponse) {
	fmt.Fprintf(w, "Session: %s\n", resp.SessionID)
	fmt.Fprintf(w, "Confidence: %.2f (%dms)\n\n", resp.Confidence, resp.ElapsedMillis)
	if resp.Decision != nil {
		fmt.Fprintf(w, "Decision:\n%s\n\n", resp.Decision.FinalDecision)
	}

	sorted := slices.Clone(resp.Responses)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AgentType < sorted[j].AgentType })
	for _, r := range sorted {
		marker := ""
		if r.Degraded {
			marker = " (degraded)"
		}
		fmt.Fprintf(w, "[%s] confidence %.2f%s\n", r.AgentType, r.Confidence, marker)
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Rate the advice given in a session",
	Long: `Record how effective a past session's advice turned out to be. A session
can be rated once.

Examples:
  councilctl feedback --corp 98000001 --session 3f1c... --effectiveness 8 --outcome "ore income up 20%"`,
	Args:    cobra.NoArgs,
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp apihttp.FeedbackResponse
		err := call(http.MethodPost, "/api/v1/feedback", apihttp.FeedbackRequest{
			CorporationID: corporationID,
			SessionID:     fbSession,
			Effectiveness: fbEffectiveness,
			Outcome:       fbOutcome,
		}, &resp)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %d experience(s)\n", resp.Updated)
		return nil
	},
}

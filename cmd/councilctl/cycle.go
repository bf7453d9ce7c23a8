package main

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/council/internal/cycle"
)

var (
	setStartDay   int
	setTimezone   string
	setEnabled    bool
	setAutoReport bool
	setEmail      string
)

func init() {
	f := cycleSetCmd.Flags()
	f.IntVar(&setStartDay, "start-day", cycle.MinStartDay, "day of month the cycle starts (1-28)")
	f.StringVar(&setTimezone, "timezone", "UTC", "IANA timezone for the start day")
	f.BoolVar(&setEnabled, "enabled", true, "run the monthly review")
	f.BoolVar(&setAutoReport, "auto-report", true, "generate the report automatically")
	f.StringVar(&setEmail, "email", "", "notification email")

	cycleCmd.AddCommand(cycleGetCmd, cycleSetCmd, cycleStatusCmd)
}

func cyclePath(suffix string) string {
	return "/api/v1/corporations/" + url.PathEscape(corporationID) + "/cycle/" + suffix
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Manage the monthly review cycle",
}

var cycleGetCmd = &cobra.Command{
	Use:     "get",
	Short:   "Show the cycle configuration",
	Args:    cobra.NoArgs,
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var cfg cycle.Configuration
		if err := call(http.MethodGet, cyclePath("config"), nil, &cfg); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), cfg)
	},
}

var cycleSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the cycle configuration",
	Long: `Replace the cycle configuration of a corporation.

Examples:
  councilctl cycle set --corp 98000001 --start-day 15 --timezone Europe/Berlin
  councilctl cycle set --corp 98000001 --enabled=false`,
	Args:    cobra.NoArgs,
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var stored cycle.Configuration
		err := call(http.MethodPut, cyclePath("config"), cycle.Configuration{
			CorporationID:        corporationID,
			CycleStartDay:        setStartDay,
			Timezone:             setTimezone,
			Enabled:              setEnabled,
			AutoReportGeneration: setAutoReport,
			NotificationEmail:    setEmail,
		}, &stored)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), stored)
	},
}

var cycleStatusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the progress of the current cycle",
	Args:    cobra.NoArgs,
	PreRunE: requireCorp,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var st cycle.Status
		if err := call(http.MethodGet, cyclePath("status"), nil, &st); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

package cmd

import (
	"github.com/michaelpento.lv/fuzztriage/triage"
	"github.com/michaelpento.lv/fuzztriage/utils"
	"github.com/michaelpento.lv/fuzztriage/utils/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type parsed struct {
	Name     string             `json:"name"`
	Findings []*triage.Analysis `json:"findings"`
	Error    string             `json:"error,omitempty"`
}

var parseCmd = &cobra.Command{
	Use:   "parse <report>...",
	Short: "Parse and classify reports without replaying them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		reports, err := readReports(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		m := metrics.NewParserMetrics(metrics.Registry(), cfg.Metrics.Namespace)
		runner, err := triage.NewRunner(cfg, nil, nil, m, log)
		if err != nil {
			return err
		}

		out := make([]parsed, 0, len(reports))
		for _, report := range reports {
			analyses, err := runner.AnalyzeAll(report.Name, report.Text)
			for _, a := range analyses {
				log.Info("Classified finding", a.Summary()...)
			}
			out = append(out, parsed{
				Name:     report.Name,
				Findings: analyses,
				Error:    errString(err),
			})
			if err != nil {
				log.Debug("Report had unparsable findings", zap.String("report", report.Name), zap.Error(err))
			}
		}

		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

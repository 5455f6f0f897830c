package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/michaelpento.lv/fuzztriage/config"
	"github.com/michaelpento.lv/fuzztriage/triage"
	"github.com/michaelpento.lv/fuzztriage/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
	logFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "fuzztriage",
	Short: "Triage fuzzer exploit reports against a forked chain",
	Long: `Parses the fund-loss findings of smart contract fuzzer reports,
classifies each exploit and replays it on forked Anvil sandboxes to find
the input scale that extracts the most value.`,
	SilenceUsage: true,
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fuzztriage.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with TRIAGE_* overrides")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	log := utils.InitLogger(debug, logFile)
	if err := config.LoadEnv(envFile); err != nil {
		log.Warn("Failed to load env file", zap.String("file", envFile), zap.Error(err))
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Logger = utils.GetLogger()
	return cfg, nil
}

// readReports loads the named files, "-" reads stdin
func readReports(stdin io.Reader, paths []string) ([]triage.Report, error) {
	reports := make([]triage.Report, 0, len(paths))
	for _, path := range paths {
		var (
			data []byte
			err  error
			name = filepath.Base(path)
		)
		if path == "-" {
			data, err = io.ReadAll(stdin)
			name = "stdin"
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read report %s: %w", path, err)
		}
		reports = append(reports, triage.Report{Name: name, Text: string(data)})
	}
	return reports, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errString keeps per-report errors in JSON output
func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/patchfetch/patchfetch/internal/mbox"
	"github.com/patchfetch/patchfetch/internal/output"
)

var (
	analyzeInputDir string
	analyzeTop      int
	analyzeThreads  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize retrieved thread mailboxes",
	Long: `Analyze reads the mailbox of every thread directory written by
fetch-patches and prints totals and the most active authors.

Examples:
  patchfetch analyze --input-dir b4_threads
  patchfetch analyze --input-dir b4_threads --top 20
  patchfetch analyze --input-dir b4_threads --threads -o json`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeInputDir, "input-dir", "", "directory written by fetch-patches (default from config)")
	analyzeCmd.Flags().IntVar(&analyzeTop, "top", 10, "number of authors to list")
	analyzeCmd.Flags().BoolVar(&analyzeThreads, "threads", false, "list every thread instead of the summary")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	dir := analyzeInputDir
	if dir == "" {
		dir = cfg.Output.Dir
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to read input directory: %w", err)
	}

	summaries, err := mbox.Scan(afero.NewOsFs(), dir)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	logger.Debug("mailboxes scanned", "dir", dir, "threads", len(summaries))

	if analyzeThreads {
		if summaries == nil {
			summaries = []mbox.Summary{}
		}
		return output.OutputTo(cmd.OutOrStdout(), outputFmt, summaries)
	}
	return output.OutputTo(cmd.OutOrStdout(), outputFmt, mbox.Aggregate(summaries, analyzeTop))
}

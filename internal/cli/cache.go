package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patchfetch/patchfetch/internal/archive"
	"github.com/patchfetch/patchfetch/internal/cache"
	"github.com/patchfetch/patchfetch/internal/output"
)

var (
	cacheBaseURL    string
	cacheUnresolved bool
	cacheLimit      int
	cacheOffset     int
	cacheStats      bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the per-archive cache",
	Long: `Each archive gets its own cache file, named after its URL
(https://lore.kernel.org/netdev/ -> lore.kernel.org_netdev_cache.db).

Examples:
  patchfetch cache path --base-url https://lore.kernel.org/netdev/
  patchfetch cache list --base-url https://lore.kernel.org/netdev/ --unresolved
  patchfetch cache list --base-url https://lore.kernel.org/netdev/ --stats
  patchfetch cache clear --base-url https://lore.kernel.org/netdev/`,
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the cache file used for an archive",
	RunE:  runCachePath,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached threads",
	RunE:  runCacheList,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cache file for an archive",
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePathCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheCmd.PersistentFlags().StringVar(&cacheBaseURL, "base-url", "", "archive list URL")
	_ = cacheCmd.MarkPersistentFlagRequired("base-url")

	cacheListCmd.Flags().BoolVar(&cacheUnresolved, "unresolved", false, "only threads not retrieved yet")
	cacheListCmd.Flags().IntVar(&cacheLimit, "limit", 50, "maximum threads to show (0 = all)")
	cacheListCmd.Flags().IntVar(&cacheOffset, "offset", 0, "skip this many threads")
	cacheListCmd.Flags().BoolVar(&cacheStats, "stats", false, "show cache statistics instead of threads")
}

// cacheFile resolves the cache path for --base-url
func cacheFile() (string, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	baseURL, err := archive.NormalizeBaseURL(cacheBaseURL)
	if err != nil {
		return "", err
	}
	return cfg.CachePath(baseURL), nil
}

func runCachePath(cmd *cobra.Command, args []string) error {
	path, err := cacheFile()
	if err != nil {
		return err
	}

	fmt.Println(path)
	return nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := cacheFile()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("No cache at %s\n", path)
		return nil
	}

	// read-only: works during a running fetch and never touches the file
	store, err := cache.OpenReadOnly(path)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	if cacheStats {
		stats, err := store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
		return output.OutputTo(cmd.OutOrStdout(), outputFmt, stats)
	}

	threads, err := store.ListThreads(ctx, cache.ListOptions{
		Unresolved: cacheUnresolved,
		Limit:      cacheLimit,
		Offset:     cacheOffset,
	})
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}
	if threads == nil {
		threads = []cache.Thread{}
	}
	return output.OutputTo(cmd.OutOrStdout(), outputFmt, threads)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	path, err := cacheFile()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("No cache at %s\n", path)
		return nil
	}

	if err := cache.Remove(path); err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return fmt.Errorf("%w (is a fetch-patches run still going?)", err)
		}
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Printf("Removed %s\n", path)
	return nil
}

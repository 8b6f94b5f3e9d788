package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/patchfetch/patchfetch/internal/config"
	"github.com/patchfetch/patchfetch/internal/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists at %s\n", configPath)
		fmt.Println("Use 'patchfetch config show' to view current configuration")
		return nil
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Install b4 (pip install b4) and make sure it is on PATH")
	fmt.Println("  2. Set archive.user_agent to something that identifies you")
	fmt.Println("  3. Run 'patchfetch fetch-patches --base-url https://lore.kernel.org/netdev/ --oldest-date YYYY-MM-DD'")

	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		return output.JSONTo(cmd.OutOrStdout(), cfg)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("# No config file at %s, showing defaults\n\n", configPath)
	} else {
		fmt.Printf("# Config file: %s\n\n", configPath)
	}
	fmt.Print(string(data))
	return nil
}

const defaultConfig = `# patchfetch configuration

[archive]
user_agent = "patchfetch/dev (+https://github.com/patchfetch/patchfetch)"
timeout = "30s"
requests_per_minute = 30   # index page requests
page_retries = 3           # retries on HTTP 429/503
retry_delay = "10s"
max_pages = 0              # 0 = follow the index until the oldest date

[retriever]
command = "b4"
# {url}, {dir} and {msgid} are substituted per thread
args = ["am", "{url}", "-C", "-o", "{dir}"]
retries = 4
retry_interval = "10s"
timeout = "5m"

[cache]
dir = ""                   # empty = current directory

[output]
dir = "b4_threads"

[log]
level = "info"             # debug, info, warn, error
`

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var (
	configInitPath      string
	configInitOverwrite bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sample configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target := strings.TrimSpace(configInitPath)
		if target == "" {
			target = configPath
		}
		var err error
		if target == "" {
			target, err = config.DefaultConfigPath()
		} else {
			target, err = config.ExpandPath(target)
		}
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}

		if !configInitOverwrite {
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("check config path: %w", err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := config.CreateSample(target); err != nil {
			return fmt.Errorf("create sample config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, exists, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := cfg.Encode()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if exists {
			fmt.Fprintf(out, "# loaded from %s\n", path)
		} else {
			fmt.Fprintf(out, "# %s not found; defaults and environment shown\n", path)
		}
		_, err = out.Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, exists, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Config path: %s\n", path)
		if !exists {
			fmt.Fprintln(out, "Config file did not exist; defaults were used")
		}
		fmt.Fprintln(out, "Configuration valid")
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitPath, "path", "p", "", "destination for the configuration file")
	configInitCmd.Flags().BoolVar(&configInitOverwrite, "overwrite", false, "overwrite an existing configuration")

	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

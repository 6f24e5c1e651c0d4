package main

import (
	"encoding/json"
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/netscale/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Show or create the config file",
		GroupID: gAdvanced,
	}

	cmd.AddCommand(newConfigShowCommand(), newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	output := newOutputFormat("json", "json", "yaml")
	local := false

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		Long: `Print the effective config, with defaults filled in.

By default the config is read from the running daemon. Use --local to read
the config file instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var raw *config.RawFileConfig
			if local {
				f, err := config.NewFile(configPath)
				if err != nil {
					return err
				}
				raw, err = config.NewRawFileConfigFromConfig(f)
				if err != nil {
					return err
				}
			} else {
				var err error
				raw, err = apiClient.GetConfig()
				if err != nil {
					return err
				}
			}

			return printConfig(cmd, raw, output.String())
		},
	}

	f := cmd.Flags()
	f.VarP(output, "output", "o", "output format (json, yaml)")
	f.BoolVar(&local, "local", false, "read the config file instead of asking the daemon")

	return cmd
}

func printConfig(cmd *cobra.Command, raw *config.RawFileConfig, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(raw)
	default:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(raw)
	}
}

func newConfigInitCommand() *cobra.Command {
	force := false
	zeroSchedule := ""

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default spelled out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", configPath)
			}

			f := config.NewFileFromConfig(config.DefaultRawFileConfig(), configPath)
			f.SetZeroSchedule(zeroSchedule)
			if err := f.Validate(); err != nil {
				return err
			}
			if err := f.Save(); err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			logrus.Infof("wrote default config to %s", configPath)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&force, "force", false, "overwrite an existing config file")
	f.StringVar(&zeroSchedule, "zero-schedule", "", "cron expression for automatic zeroing, e.g. \"@daily\" (empty disables it)")

	return cmd
}

package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/netscale/pkg/config"
	daemonutils "github.com/charlie0129/netscale/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false
	zeroSchedule := ""

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install netscale (system-wide)",
		GroupID: gInstallation,
		Long: `Install netscale daemon as a systemd service (system-wide).

This makes netscale run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the daemon socket. If you want to allow non-root users to tare or zero the scale from this command, use the --allow-non-root-access flag. Network clients are not affected by this flag.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the netscale daemon.")
			} else {
				logrus.Info("only root user is allowed to access the netscale daemon.")
			}

			if cmd.Flags().Changed("zero-schedule") {
				conf.SetZeroSchedule(zeroSchedule)
				if err := conf.Validate(); err != nil {
					return err
				}
				logrus.WithField("zeroSchedule", zeroSchedule).Info("automatic zeroing schedule updated")
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `netscale install' again.\n", exePath)

			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access netscale daemon.")
	f.StringVar(&zeroSchedule, "zero-schedule", "", "Cron expression for automatic zeroing, e.g. \"0 3 * * *\". An empty value disables it.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall netscale (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall netscale daemon from systemd (system-wide).

This stops netscale and removes its systemd unit.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `netscale' again. If you want a complete uninstall, you can remove both config file and netscale itself manually.\n", configPath)

			return nil
		},
	}

	return cmd
}

package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/netscale/pkg/client"
	"github.com/charlie0129/netscale/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)

			daemonVersion, err := apiClient.GetVersion()
			if err != nil {
				logrus.Debugf("failed to get daemon version: %v", err)
				return
			}
			if daemonVersion != version.Version {
				logrus.WithFields(logrus.Fields{
					"clientVersion": version.Version,
					"daemonVersion": daemonVersion,
				}).Warn("version mismatch between client and daemon")
			}
		},
	}
}

func NewWeightCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "weight",
		Short:   "Print the net weight",
		GroupID: gBasic,
		Long: `Print the net weight as it is shown to protocol clients: rounded to the
configured increment, with the tare offset removed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := apiClient.GetWeight()
			if err != nil {
				return fmt.Errorf("failed to get weight: %w", err)
			}

			cmd.Printf("%s %s\n", w.Formatted, w.Unit)
			return nil
		},
	}
}

func NewTareCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "tare [value]",
		Short:   "Tare the scale, or set the tare offset",
		GroupID: gBasic,
		Long: `Tare the scale, or set the tare offset.

Without an argument, the weight currently on the scale is added to the tare
offset, the same as the T command. With a value, the tare offset is replaced,
the same as the TA<value> command.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				t, err := apiClient.Tare()
				if err != nil {
					return fmt.Errorf("failed to tare: %w", err)
				}
				logrus.Infof("successfully tared, tare is now %g", t)
				return nil
			}

			t, err := parseFloatArg(args, "tare")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetTare(t)
			if err != nil {
				return fmt.Errorf("failed to set tare: %w", err)
			}
			if ret != "" {
				logrus.Debugf("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set tare to %g", t)
			return nil
		},
	}
}

func NewZeroCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "zero",
		Short:   "Zero the scale",
		GroupID: gBasic,
		Long: `Zero the scale.

The load cell averages its next samples to find the new zero and the tare
offset is cleared. Keep the platform empty while zeroing.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Zero()
			if err != nil {
				return fmt.Errorf("failed to zero: %w", err)
			}
			if ret != "" {
				logrus.Debugf("daemon responded: %s", ret)
			}

			logrus.Info("zero requested")
			return nil
		},
	}
}

func NewSimulateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "simulate <weight>",
		Short:   "Put a load on the simulated load cell",
		GroupID: gAdvanced,
		Long: `Put a load on the simulated load cell.

This only works when the daemon runs with "source": "simulated". The weight is
in the configured unit and is relative to the zero taken at startup.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			w, err := parseFloatArg(args, "weight")
			if err != nil {
				return err
			}

			if _, err := apiClient.SimulateWeight(w); err != nil {
				return fmt.Errorf("failed to simulate load: %w", err)
			}

			logrus.Infof("simulated load set to %g", w)
			return nil
		},
	}
}

func NewClientsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "clients",
		Short:   "List connected protocol clients",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			clients, err := apiClient.GetClients()
			if err != nil {
				return fmt.Errorf("failed to get clients: %w", err)
			}

			if len(clients) == 0 {
				cmd.Println("no clients connected")
				return nil
			}

			for _, c := range clients {
				cmd.Printf("  [%d] %s  connected %s ago  commands: %d\n",
					c.Slot, bold("%s", c.Remote), time.Since(c.ConnectedAt).Round(time.Second), c.Commands)
			}
			return nil
		},
	}
}

func NewSendCommand() *cobra.Command {
	addr := "127.0.0.1:21"
	timeout := 2 * time.Second

	cmd := &cobra.Command{
		Use:     "send <command>",
		Short:   "Send a protocol command over TCP",
		GroupID: gAdvanced,
		Long: `Send a protocol command over TCP and print the response.

This connects the same way a network client does, so it occupies one of the
connection slots while it runs.`,
		Example: `  netscale send S
  netscale send TA12.5 --addr 192.168.1.20:21`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.SendCommand(addr, args[0], timeout)
			if err != nil {
				return err
			}
			cmd.Println(resp)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", addr, "address of the scale")
	f.DurationVar(&timeout, "timeout", timeout, "how long to wait for a response")

	return cmd
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/netscale/pkg/config"
	"github.com/charlie0129/netscale/pkg/types"
)

type statusData struct {
	weight  *types.WeightInfo
	stats   *types.Stats
	clients []types.ClientInfo
	config  *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	w, err := apiClient.GetWeight()
	if err != nil {
		return nil, fmt.Errorf("failed to get weight: %w", err)
	}

	stats, err := apiClient.GetStats()
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	clients, err := apiClient.GetClients()
	if err != nil {
		return nil, fmt.Errorf("failed to get clients: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		weight:  w,
		stats:   stats,
		clients: clients,
		config:  conf,
	}, nil
}

type statusJSON struct {
	Weight        types.WeightInfo      `json:"weight"`
	Stats         types.Stats           `json:"stats"`
	Clients       []types.ClientInfo    `json:"clients"`
	Configuration *config.RawFileConfig `json:"configuration"`
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of netscale",
		Long:    `Get the weight, load cell and connection statistics, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statusJSON{
					Weight:        *data.weight,
					Stats:         *data.stats,
					Clients:       data.clients,
					Configuration: data.config,
				})
			}

			conf := config.NewFileFromConfig(data.config, "")

			cmd.Println(bold("Scale:"))
			cmd.Printf("  Net weight: %s\n", bold("%s %s", data.weight.Formatted, data.weight.Unit))
			cmd.Printf("  Tare: %s\n", bold("%g %s", data.weight.Tare, data.weight.Unit))
			src := data.stats.Source
			state := color.GreenString("settled")
			switch {
			case src.Zeroing:
				state = color.YellowString("zeroing")
			case !src.Settled:
				state = color.YellowString("settling")
			}
			cmd.Printf("  Load cell: %s (%s)\n", bold("%s", state), conf.Source())
			cmd.Printf("  Samples: %d, dropped: %d, malformed: %d\n", src.Samples, src.Dropped, src.Malformed)
			cmd.Printf("  Zero reference: %.0f counts\n", src.ZeroOffset)
			if data.stats.NextAutoZero != "" {
				cmd.Printf("  Next auto zero: %s\n", data.stats.NextAutoZero)
			}

			cmd.Println()

			cmd.Println(bold("Connections:"))
			cmd.Printf("  Listening on: %s\n", bold("%s", conf.Addr()))
			clients := fmt.Sprintf("%d/%d", data.stats.Clients, data.stats.MaxClients)
			if data.stats.Clients >= data.stats.MaxClients {
				clients = color.RedString(clients)
			}
			cmd.Printf("  Clients: %s\n", bold("%s", clients))
			for _, c := range data.clients {
				cmd.Printf("    [%d] %s (%d commands)\n", c.Slot, c.Remote, c.Commands)
			}
			cmd.Printf("  Commands handled: %d, rejected connections: %d\n", data.stats.Commands, data.stats.Rejected)
			missed := fmt.Sprintf("%d", data.stats.MissedTicks)
			if data.stats.MissedTicks > 0 {
				missed = color.YellowString(missed)
			}
			cmd.Printf("  Ticks: %d, missed: %s\n", data.stats.Ticks, missed)
			cmd.Printf("  Last minute: %d continuous ticks, longest gap %dms\n", data.stats.ContinuousTicks, data.stats.MaxTickGapMs)

			cmd.Println()

			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Increment: %s\n", bold("%g %s", conf.Increment(), conf.Unit()))
			cmd.Printf("  Hysteresis: %s\n", bold("%g %s", conf.Hysteresis(), conf.Unit()))
			cmd.Printf("  Decimals: %d, width: %d\n", conf.Decimals(), conf.Width())
			schedule := conf.ZeroSchedule()
			if schedule == "" {
				schedule = "disabled"
			}
			cmd.Printf("  Auto zero: %s\n", schedule)
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

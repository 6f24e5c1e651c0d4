package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/netscale/pkg/events"
)

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Follow weight and connection events",
		GroupID: gBasic,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.SubscribeEvents(ctx)
			if err != nil {
				return err
			}

			for ev := range ch {
				line, err := describeEvent(ev)
				if err != nil {
					return fmt.Errorf("failed to decode %s event: %w", ev.Name, err)
				}
				if line != "" {
					cmd.Println(line)
				}
			}

			return nil
		},
	}
}

func describeEvent(ev events.Event) (string, error) {
	now := time.Now().Format(time.TimeOnly)

	switch ev.Name {
	case events.WeightChanged:
		w, err := events.DecodeAs[events.WeightChangedEvent](ev)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s  %s %s  (tare %g)", now, bold("%s", w.Formatted), w.Unit, w.Tare), nil
	case events.ZeroComplete:
		return fmt.Sprintf("%s  zero complete", now), nil
	case events.Client:
		c, err := events.DecodeAs[events.ClientEvent](ev)
		if err != nil {
			return "", err
		}
		if c.Action == events.ClientRejected {
			return fmt.Sprintf("%s  %s rejected: all slots in use", now, c.Remote), nil
		}
		return fmt.Sprintf("%s  %s %s (slot %d)", now, c.Remote, c.Action, c.Slot), nil
	default:
		return "", nil
	}
}

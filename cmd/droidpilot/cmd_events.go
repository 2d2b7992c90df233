package main

import (
	"fmt"
	"text/tabwriter"

	"droidpilot/pkg/config"
	"droidpilot/pkg/events"

	"github.com/spf13/cobra"
)

// newEventsCmd creates the "droidpilot events" subcommand for inspecting the
// scheduler's event log.
func newEventsCmd() *cobra.Command {
	var configPath string
	var dbPath string
	var device string
	var workerID string
	var eventType string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show scheduler events from the event log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				dbPath = cfg.Scheduler.DBPath
			}
			if dbPath == "" {
				return fmt.Errorf("no event database configured: set scheduler.db_path or pass --db")
			}

			r, err := events.NewReader(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			evts, err := r.Query(cmd.Context(), events.QueryOpts{
				Device:    device,
				WorkerID:  workerID,
				EventType: eventType,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if len(evts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no events")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tDEVICE\tWORKER\tPAYLOAD")
			for _, e := range evts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type, e.Device, e.WorkerID, e.Payload)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "event database path (overrides config)")
	cmd.Flags().StringVar(&device, "device", "", "filter by device")
	cmd.Flags().StringVar(&workerID, "worker", "", "filter by worker ID")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show (0 = all)")

	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lowaak/grapple-monitor/internal/monitor"
	"github.com/lowaak/grapple-monitor/internal/telemetry"
)

func newTailCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Connect without the dashboard and print each sample as a JSON line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(opts, true)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())
			defer rt.model.OnSample(func(s telemetry.TrainingSample) {
				mu.Lock()
				defer mu.Unlock()
				if err := enc.Encode(s); err != nil {
					rt.logger.Printf("tail: writing sample: %v", err)
				}
			})()
			defer rt.model.OnError(func(text string) {
				if text != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "error:", text)
				}
			})()

			statuses := make(chan monitor.ConnectionStatus, 8)
			defer rt.model.ListenToConnectionStatus(statuses)()

			if err := rt.handler.Connect(ctx, opts.cfg.Port); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					rt.handler.Disconnect()
					return nil
				case status := <-statuses:
					if status.State == monitor.Disconnected && rt.handler.State() == monitor.Disconnected {
						return nil
					}
				}
			}
		},
	}
}

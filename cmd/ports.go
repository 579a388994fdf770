package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lowaak/grapple-monitor/internal/serialport"
)

func newPortsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports, marking the one auto-select would pick",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			ports, err := rt.handler.ListPorts()
			if err != nil {
				return fmt.Errorf("listing ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
				return nil
			}

			auto, autoErr := serialport.SelectPort(ports, "")
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tPORT\tVID:PID\tSERIAL\tPRODUCT")
			for _, p := range ports {
				mark := ""
				if autoErr == nil && p.Name == auto.Name {
					mark = "*"
				}
				ids := ""
				if p.IsUSB {
					ids = p.VID + ":" + p.PID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, p.Name, ids, p.SerialNumber, p.Product)
			}
			return w.Flush()
		},
	}
}

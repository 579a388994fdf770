package main

import (
	"bytes"
	"fmt"
	"log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/lowaak/grapple-monitor/internal/config"
	"github.com/lowaak/grapple-monitor/internal/monitor"
)

// options is filled in by PersistentPreRunE before any command runs.
type options struct {
	cfg    config.Config
	loader *config.Loader
	// bootLog buffers what the loader logs before the log file is open
	bootLog *bytes.Buffer
	logger  *log.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{bootLog: &bytes.Buffer{}}

	root := &cobra.Command{
		Use:           "grapple-monitor",
		Short:         "Live dashboard for the grapple training board",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDashboard(opts)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newPortsCmd(opts))
	root.AddCommand(newTailCmd(opts))
	return root
}

func (o *options) load(cmd *cobra.Command) error {
	o.logger = log.New(o.bootLog, "", log.Ltime|log.Lmicroseconds)
	o.loader = config.NewLoader(o.logger)
	if err := o.loader.BindFlags(cmd.Flags()); err != nil {
		return err
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := o.loader.Load(configFile)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func runDashboard(opts *options) error {
	rt, err := newRuntime(opts, false)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	persistence := monitor.NewModelPersistence(rt.logger, "")
	controller := monitor.NewController(monitor.NewControllerArg{
		Model:         rt.model,
		Handler:       rt.handler,
		Persistence:   persistence,
		Logger:        rt.logger,
		PreferredPort: opts.cfg.Port,
	})
	defer controller.Shutdown()

	app := tview.NewApplication()
	app.EnableMouse(true)
	tview.Styles.PrimitiveBackgroundColor = tcell.ColorDefault

	view := monitor.NewBaseView(monitor.NewBaseViewArg{
		ViewImpl:   monitor.NewCursesView(rt.logger, app),
		Model:      rt.model,
		Controller: controller,
		Logger:     rt.logger,
	})
	defer view.Shutdown()

	rt.logger.Printf("Grapple Monitor started - press 'c' to connect, Esc to quit")
	controller.RefreshPorts()
	controller.ToggleConnection()

	if err := view.Run(); err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}

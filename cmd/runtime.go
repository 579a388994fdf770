package main

import (
	"log"

	"github.com/lowaak/grapple-monitor/internal/config"
	"github.com/lowaak/grapple-monitor/internal/logging"
	"github.com/lowaak/grapple-monitor/internal/monitor"
	"github.com/lowaak/grapple-monitor/internal/serialport"
	"github.com/lowaak/grapple-monitor/internal/webfeed"
)

// runtime is the part of the process every command shares: logging, the
// session model, the port provider and the connection handler.
type runtime struct {
	logs     *logging.Logging
	logger   *log.Logger
	model    *monitor.SessionModel
	provider serialport.Provider
	mock     *serialport.MockProvider
	handler  *monitor.ConnectionHandler
	web      *webfeed.Server
}

func newRuntime(opts *options, stderr bool) (*runtime, error) {
	cfg := opts.cfg
	logs, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Stderr:     stderr,
	})
	if err != nil {
		return nil, err
	}
	logger := logs.Logger

	// Replay what config loading logged, then send the loader to the real log
	_, _ = logger.Writer().Write(opts.bootLog.Bytes())
	opts.bootLog.Reset()
	opts.logger.SetOutput(logger.Writer())

	rt := &runtime{logs: logs, logger: logger}
	rt.model = monitor.NewSessionModel(logger, logs.UILogChan, monitor.SessionModelOptions{
		ChartPoints:  cfg.Chart.Points,
		RawTailBytes: cfg.Raw.MaxBytes,
	})

	if cfg.Mock.Enabled {
		device := serialport.NewMockDevice(logger, serialport.MockDeviceConfig{
			ControlAddr: cfg.Mock.ControlAddr,
			Interval:    cfg.Mock.Interval,
			SplitWrites: true,
		})
		if err := device.Start(); err != nil {
			rt.model.Shutdown()
			_ = logs.Close()
			return nil, err
		}
		rt.mock = serialport.NewMockProvider(logger, device)
		rt.provider = rt.mock
	} else {
		rt.provider = serialport.NewHostProvider(logger)
	}

	rt.handler = monitor.NewConnectionHandler(monitor.NewConnectionHandlerArg{
		Model:    rt.model,
		Provider: rt.provider,
		Logger:   logger,
	})

	if cfg.Web.Addr != "" {
		rt.web = webfeed.NewServer(webfeed.NewServerArg{
			Model:  rt.model,
			Logger: logger,
			Addr:   cfg.Web.Addr,
		})
		if err := rt.web.Start(); err != nil {
			logger.Printf("webfeed: not started: %v", err)
			rt.web = nil
		}
	}

	if opts.loader.Watch(func(c config.Config) { rt.model.SetChartPoints(c.Chart.Points) }) {
		logger.Printf("config: watching for changes")
	}
	return rt, nil
}

// Shutdown stops components in reverse order of creation
func (rt *runtime) Shutdown() {
	if rt.web != nil {
		rt.web.Shutdown()
	}
	rt.handler.Shutdown()
	if rt.mock != nil {
		rt.mock.Shutdown()
	}
	rt.model.Shutdown()
	_ = rt.logs.Close()
}

package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// UILogChanSize bounds the lines buffered for the dashboard log pane. Lines
// written while it is full are dropped from the pane but still reach the file.
const UILogChanSize = 256

type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Stderr also writes every line to stderr, for commands without a dashboard
	Stderr bool
}

// Logging owns the rotating log file and the channel feeding the log pane.
type Logging struct {
	Logger    *log.Logger
	UILogChan chan string
	file      *lumberjack.Logger
}

func New(opts Options) (*Logging, error) {
	if opts.File == "" {
		opts.File = "grapple-monitor.log"
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	uiLogChan := make(chan string, UILogChanSize)

	writers := []io.Writer{file, NewChannelWriter(uiLogChan)}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}

	return &Logging{
		Logger:    log.New(io.MultiWriter(writers...), "", log.Ltime|log.Lmicroseconds),
		UILogChan: uiLogChan,
		file:      file,
	}, nil
}

func (l *Logging) Close() error {
	return l.file.Close()
}

// ChannelWriter sends each write as one line to a channel without blocking.
// log.Logger issues exactly one Write per entry.
type ChannelWriter struct {
	ch chan<- string
}

func NewChannelWriter(ch chan<- string) *ChannelWriter {
	return &ChannelWriter{ch: ch}
}

func (w *ChannelWriter) Write(p []byte) (int, error) {
	select {
	case w.ch <- string(p):
	default:
	}
	return len(p), nil
}

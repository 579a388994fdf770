package monitor

import (
	"errors"
	"fmt"
)

var ErrAlreadyConnected = errors.New("already connected")

// ConnectionError reports a failure to select, open or read the port.
type ConnectionError struct {
	Op   string // "select", "open", "read"
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("serial %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TeardownError reports a failure while releasing the reader or closing the
// port. Teardown carries on regardless.
type TeardownError struct {
	Op  string // "release", "close"
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown %s: %v", e.Op, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

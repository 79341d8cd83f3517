//go:build !linux

package cosched

import (
	"time"
)

// poller is unavailable on this platform; tasks waiting on I/O fail with
// ErrIOUnsupported. Waits outside tasks still use poll(2) where the platform
// has it.
type poller struct{}

func newPoller() (*poller, error) { return nil, ErrIOUnsupported }

func (*poller) add(int, IOEvents) error    { return ErrIOUnsupported }
func (*poller) modify(int, IOEvents) error { return ErrIOUnsupported }
func (*poller) remove(int) error           { return ErrIOUnsupported }
func (*poller) wakeup() error              { return nil }
func (*poller) close() error               { return nil }

func (*poller) wait(time.Duration, []readyEvent) ([]readyEvent, error) {
	return nil, ErrIOUnsupported
}

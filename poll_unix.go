//go:build unix

package cosched

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// pollFDs blocks in poll(2), for callers that are not tasks.
func pollFDs(fds []FDInterest, timeout time.Duration) ([]IOEvents, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, in := range fds {
		pfds[i] = unix.PollFd{Fd: int32(in.FD), Events: eventsToPoll(in.Events)}
	}
	ms := -1
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if timeout > 0 {
			ms = pollMillis(time.Until(deadline))
		}
		n, err := unix.Poll(pfds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if timeout > 0 && time.Until(deadline) > 0 {
				continue
			}
			return make([]IOEvents, len(fds)), ErrTimeout
		}
		revents := make([]IOEvents, len(fds))
		for i := range pfds {
			revents[i] = pollToEvents(pfds[i].Revents)
		}
		return revents, nil
	}
}

// pollMillis converts a remaining wait to a poll(2) timeout, rounding up so
// the last partial millisecond still blocks.
func pollMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func eventsToPoll(events IOEvents) int16 {
	var v int16
	if events&EventRead != 0 {
		v |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		v |= unix.POLLOUT
	}
	return v
}

func pollToEvents(v int16) IOEvents {
	var events IOEvents
	if v&unix.POLLIN != 0 {
		events |= EventRead
	}
	if v&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if v&(unix.POLLERR|unix.POLLNVAL) != 0 {
		events |= EventError
	}
	if v&unix.POLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

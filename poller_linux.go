//go:build linux

package cosched

import (
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

var errPollerClosed = errors.New("cosched: poller closed")

// poller wraps an epoll instance, plus an eventfd used to interrupt a
// blocked wait. Registration calls are safe for concurrent use; wait must
// only be called by one goroutine at a time.
type poller struct {
	eventBuf    [256]unix.EpollEvent
	epfd        int
	wakeFd      int
	wakePending atomic.Bool
	closed      atomic.Bool
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &poller{epfd: epfd, wakeFd: wakeFd}, nil
}

func (p *poller) add(fd int, events IOEvents) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, events)
}

func (p *poller) modify(fd int, events IOEvents) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, events)
}

func (p *poller) remove(fd int) error {
	if p.closed.Load() {
		return errPollerClosed
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *poller) ctl(op, fd int, events IOEvents) error {
	if p.closed.Load() {
		return errPollerClosed
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, op, fd, &ev)
	if errors.Is(err, unix.EPERM) {
		return errNotPollable
	}
	return err
}

// wait blocks for up to timeout (rounded up to whole milliseconds), and
// appends the ready fds to out. Wakeups are consumed, not reported.
func (p *poller) wait(timeout time.Duration, out []readyEvent) ([]readyEvent, error) {
	if p.closed.Load() {
		return out, errPollerClosed
	}
	ms := int((timeout + time.Millisecond - 1) / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return out, nil
		}
		return out, err
	}
	for i := range n {
		fd := int(p.eventBuf[i].Fd)
		if fd == p.wakeFd {
			p.drainWakeup()
			continue
		}
		out = append(out, readyEvent{fd: fd, events: epollToEvents(p.eventBuf[i].Events)})
	}
	return out, nil
}

// wakeup interrupts wait. Writes are deduplicated until the pending wakeup
// has been consumed.
func (p *poller) wakeup() error {
	if p.closed.Load() || !p.wakePending.CompareAndSwap(false, true) {
		return nil
	}
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wakeFd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (p *poller) drainWakeup() {
	p.wakePending.Store(false)
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFd, buf[:]); err != nil {
			break
		}
	}
}

func (p *poller) close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(unix.Close(p.wakeFd), unix.Close(p.epfd))
}

func eventsToEpoll(events IOEvents) uint32 {
	var v uint32
	if events&EventRead != 0 {
		v |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&EventWrite != 0 {
		v |= unix.EPOLLOUT
	}
	return v
}

func epollToEvents(v uint32) IOEvents {
	var events IOEvents
	if v&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if v&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if v&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if v&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHangup
	}
	return events
}

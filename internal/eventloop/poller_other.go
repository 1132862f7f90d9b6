//go:build !linux

package eventloop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable Poller backend for non-Linux targets, built on
// POSIX poll(2) rather than epoll. Levelled-triggered semantics fall out of
// poll() naturally, matching the Linux backend's behavior.
type pollPoller struct {
	fds map[int]ClassMask
}

// NewPoller constructs the platform Poller. Off Linux this is poll(2)-backed.
func NewPoller() (Poller, error) {
	return &pollPoller{fds: make(map[int]ClassMask)}, nil
}

func (p *pollPoller) Add(fd int, classes ClassMask) error {
	p.fds[fd] = classes
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	delete(p.fds, fd)
	return nil
}

func pollEventsFor(classes ClassMask) int16 {
	var ev int16
	if classes&MaskRead != 0 {
		ev |= unix.POLLIN
	}
	if classes&MaskWrite != 0 {
		ev |= unix.POLLOUT
	}
	if classes&MaskException != 0 {
		ev |= unix.POLLPRI
	}
	return ev
}

func (p *pollPoller) Wait(timeout time.Duration) ([]ReadyEvent, error) {
	if len(p.fds) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}

	pfds := make([]unix.PollFd, 0, len(p.fds))
	order := make([]int, 0, len(p.fds))
	for fd, classes := range p.fds {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: pollEventsFor(classes)})
		order = append(order, fd)
	}

	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	if timeout < 0 {
		ms = -1
	}

	n, err := unix.Poll(pfds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	var out []ReadyEvent
	for i, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		fd := order[i]
		if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			out = append(out, ReadyEvent{FD: fd, Class: EventException, Err: fmt.Errorf("bad descriptor %d: poll reported error/hup", fd)})
			continue
		}
		if pfd.Revents&unix.POLLIN != 0 {
			out = append(out, ReadyEvent{FD: fd, Class: EventRead})
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			out = append(out, ReadyEvent{FD: fd, Class: EventWrite})
		}
		if pfd.Revents&unix.POLLPRI != 0 {
			out = append(out, ReadyEvent{FD: fd, Class: EventException})
		}
	}
	return out, nil
}

func (p *pollPoller) Close() error { return nil }

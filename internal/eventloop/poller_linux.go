//go:build linux

package eventloop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux Poller backend: one epoll instance shared across
// every registered fd, levelled-triggered as required by §4.2 ("level-
// triggered" readiness).
type epollPoller struct {
	epfd int
}

// NewPoller constructs the platform Poller. On Linux this is epoll-backed.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd}, nil
}

func epollEventsFor(classes ClassMask) uint32 {
	var ev uint32
	if classes&MaskRead != 0 {
		ev |= unix.EPOLLIN
	}
	if classes&MaskWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if classes&MaskException != 0 {
		ev |= unix.EPOLLPRI
	}
	return ev
}

func (p *epollPoller) Add(fd int, classes ClassMask) error {
	ev := &unix.EpollEvent{Events: epollEventsFor(classes), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	if err != nil {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	}
	return err
}

func (p *epollPoller) Remove(fd int) error {
	// Linux epoll_ctl(DEL) ignores the event pointer but some kernels < 2.6.9
	// required non-nil; pass a throwaway struct for portability across the
	// kernel versions the suite targets.
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

func (p *epollPoller) Wait(timeout time.Duration) ([]ReadyEvent, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	if timeout < 0 {
		ms = -1
	}

	var raw [64]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	out := make([]ReadyEvent, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		events := raw[i].Events
		if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			out = append(out, ReadyEvent{FD: fd, Class: EventException, Err: fmt.Errorf("bad descriptor %d: epoll reported EPOLLERR/EPOLLHUP", fd)})
			continue
		}
		if events&unix.EPOLLIN != 0 {
			out = append(out, ReadyEvent{FD: fd, Class: EventRead})
		}
		if events&unix.EPOLLOUT != 0 {
			out = append(out, ReadyEvent{FD: fd, Class: EventWrite})
		}
		if events&unix.EPOLLPRI != 0 {
			out = append(out, ReadyEvent{FD: fd, Class: EventException})
		}
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

//go:build linux

package ioloop

import (
	"golang.org/x/sys/unix"
)

// linuxPoller is the real epoll backend, built on golang.org/x/sys/unix
// rather than the stdlib syscall package.
type linuxPoller struct {
	epfd  int
	rfd   int
	wfd   int
	batch []unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	p := &linuxPoller{
		epfd:  epfd,
		rfd:   fds[0],
		wfd:   fds[1],
		batch: make([]unix.EpollEvent, 256),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p.rfd, &unix.EpollEvent{
		Fd:     int32(p.rfd),
		Events: unix.EPOLLIN,
	}); err != nil {
		_ = unix.Close(p.rfd)
		_ = unix.Close(p.wfd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func (p *linuxPoller) register(fd int, interest Event, isNew bool) error {
	op := unix.EPOLL_CTL_MOD
	if isNew {
		op = unix.EPOLL_CTL_ADD
	}
	ev := unix.EpollEvent{Fd: int32(fd), Events: unix.EPOLLET}
	if interest&Read != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if interest&Write != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

func (p *linuxPoller) unregister(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *linuxPoller) wait(timeoutMs int) ([]pollerEvent, error) {
	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, p.batch, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}
	out := make([]pollerEvent, 0, n)
	for i := 0; i < n; i++ {
		e := p.batch[i]
		if int(e.Fd) == p.rfd {
			p.drainWake()
			continue
		}
		var mask Event
		if e.Events&unix.EPOLLIN != 0 {
			mask |= Read
		}
		if e.Events&unix.EPOLLOUT != 0 {
			mask |= Write
		}
		hup := e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		out = append(out, pollerEvent{fd: int(e.Fd), mask: mask, errHup: hup})
	}
	return out, nil
}

func (p *linuxPoller) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.rfd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *linuxPoller) wake() {
	_, _ = unix.Write(p.wfd, []byte{'T'})
}

func (p *linuxPoller) close() error {
	_ = unix.Close(p.rfd)
	_ = unix.Close(p.wfd)
	return unix.Close(p.epfd)
}

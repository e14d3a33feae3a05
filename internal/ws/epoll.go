//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// pollBatch caps how many ready descriptors one wait call hands to the
// worker pool.
const pollBatch = 128

// poller multiplexes reads over all client sockets through one Linux epoll
// instance, so idle connections cost a map entry instead of a goroutine.
type poller struct {
	fd     int              // epoll file descriptor
	mu     sync.RWMutex     // protects conns
	conns  map[int]net.Conn // socket fd -> net.Conn
	events []unix.EpollEvent
}

// newPoller creates the epoll instance.
func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &poller{
		fd:     fd,
		conns:  make(map[int]net.Conn),
		events: make([]unix.EpollEvent, pollBatch),
	}, nil
}

// add registers a connection for read-readiness and hangup notifications.
func (p *poller) add(conn net.Conn) error {
	fd := socketFD(conn)
	err := unix.EpollCtl(p.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conns[fd] = conn
	p.mu.Unlock()
	return nil
}

// remove drops a connection from the interest list and the fd map.
func (p *poller) remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(p.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.conns, fd)
	p.mu.Unlock()
	return nil
}

// wait blocks until at least one registered socket has pending data and
// returns the matching connections. Descriptors removed between the kernel
// wakeup and the map lookup are skipped.
func (p *poller) wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(p.fd, p.events, -1)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := p.conns[int(p.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	p.mu.RUnlock()
	return conns, nil
}

// close releases the epoll file descriptor.
func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = nil
	return unix.Close(p.fd)
}

// socketFD extracts the file descriptor from a net.Conn through SyscallConn,
// which keeps the original fd valid (File() would duplicate it).
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}

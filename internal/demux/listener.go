package demux

import (
	"net"
	"sync"
)

// Listener is a net.Listener fed by ServeConn. It lets a net/http server
// consume connections that a Mux has already accepted and routed.
type Listener struct {
	addr  net.Addr
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

// NewListener creates a Listener reporting addr as its address.
func NewListener(addr net.Addr) *Listener {
	return &Listener{
		addr:  addr,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
}

// ServeConn queues conn for Accept. It blocks until a consumer accepts it
// and closes conn if the listener is closed first.
func (l *Listener) ServeConn(conn net.Conn) {
	select {
	case l.conns <- conn:
	case <-l.done:
		_ = conn.Close()
	}
}

// Accept waits for the next queued connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close makes Accept return net.ErrClosed. It is safe to call more than once.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// Addr returns the address given to NewListener.
func (l *Listener) Addr() net.Addr {
	if l.addr == nil {
		return pipeAddr{}
	}
	return l.addr
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "demux" }
func (pipeAddr) String() string  { return "demux" }

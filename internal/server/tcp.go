package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"posecast-go/internal/registry"
)

// Listener accepts plain TCP subscribers. Subscribers send nothing; they
// read one pose line per successful estimate until they hang up.
type Listener struct {
	ln       net.Listener
	registry *registry.Registry
}

func Listen(addr string, reg *registry.Registry) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	log.Printf("[server] accepting pose subscribers on %s", ln.Addr())
	return &Listener{ln: ln, registry: reg}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled. Accept errors are
// logged and retried with backoff; they never end the loop.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			log.Printf("[server] accept error: %v; retrying in %v", err, backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		l.register(conn)
	}
}

func (l *Listener) register(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	sub := &tcpSubscriber{Conn: conn}
	sub.connected.Store(true)
	id := l.registry.Register(sub)

	go func() {
		// Inbound bytes are ignored; the read only serves to notice hang-ups.
		_, _ = io.Copy(io.Discard, conn)
		sub.connected.Store(false)
		l.registry.Remove(id)
	}()
}

type tcpSubscriber struct {
	net.Conn
	connected atomic.Bool
}

func (s *tcpSubscriber) Connected() bool {
	return s.connected.Load()
}

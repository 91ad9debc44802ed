// Package registry holds the set of connected subscribers and writes
// broadcast payloads to them.
package registry

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultWriteTimeout = 250 * time.Millisecond

// Conn is an outbound subscriber connection. net.Conn satisfies it.
type Conn interface {
	Write(p []byte) (int, error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// LivenessChecker is implemented by connections that know when their peer
// has gone away.
type LivenessChecker interface {
	Connected() bool
}

type Result struct {
	Delivered int
	Evicted   int
}

type Registry struct {
	mu           sync.Mutex
	conns        map[string]Conn
	writeTimeout time.Duration
}

func New(writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Registry{
		conns:        make(map[string]Conn),
		writeTimeout: writeTimeout,
	}
}

// Register adds conn and returns the id it is registered under.
func (r *Registry) Register(conn Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = conn
	n := len(r.conns)
	r.mu.Unlock()
	log.Printf("[registry] client %s connected (total: %d)", id, n)
	return id
}

// Remove drops and closes the connection registered under id. It reports
// false if the id was already gone.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	r.dropLocked(id, conn)
	log.Printf("[registry] client %s disconnected (remaining: %d)", id, len(r.conns))
	return true
}

// SnapshotAndBroadcast writes payload to every registered connection.
// Connections that report themselves disconnected or fail the write are
// removed and closed once the pass over the set is complete.
func (r *Registry) SnapshotAndBroadcast(payload []byte) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	var stale []string
	for id, conn := range r.conns {
		if lc, ok := conn.(LivenessChecker); ok && !lc.Connected() {
			stale = append(stale, id)
			continue
		}
		if err := r.write(conn, payload); err != nil {
			log.Printf("[registry] client %s write failed: %v", id, err)
			stale = append(stale, id)
			continue
		}
		res.Delivered++
	}
	for _, id := range stale {
		r.dropLocked(id, r.conns[id])
	}
	res.Evicted = len(stale)
	if res.Evicted > 0 {
		log.Printf("[registry] evicted %d client(s) (remaining: %d)", res.Evicted, len(r.conns))
	}
	return res
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// CloseAll removes and closes every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		r.dropLocked(id, conn)
	}
}

func (r *Registry) write(conn Conn, payload []byte) error {
	// Without a deadline the write could block the whole pass.
	if err := conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	n, err := conn.Write(payload)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return io.ErrShortWrite
	}
	return nil
}

func (r *Registry) dropLocked(id string, conn Conn) {
	delete(r.conns, id)
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		log.Printf("[registry] client %s close: %v", id, err)
	}
}

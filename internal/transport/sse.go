// Copyright 2025 The Relay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// sseConn is one live server-sent-events stream. Writes are serialised by
// the per-connection mutex and bounded by SSE_WRITE_TIMEOUT; the connection
// table lock is never held across a write.
type sseConn struct {
	id            string
	sessionId     string
	writer        http.ResponseWriter
	flusher       http.Flusher
	rc            *http.ResponseController
	establishedAt time.Time

	mu       sync.Mutex
	lastSent time.Time
	closed   bool
	done     chan struct{}
}

func newSseConn(id, sessionId string, w http.ResponseWriter, flusher http.Flusher) *sseConn {
	now := time.Now()
	return &sseConn{
		id:            id,
		sessionId:     sessionId,
		writer:        w,
		flusher:       flusher,
		rc:            http.NewResponseController(w),
		establishedAt: now,
		lastSent:      now,
		done:          make(chan struct{}),
	}
}

// writeData sends one `data: <json>` frame. A successful write refreshes
// lastSent.
func (c *sseConn) writeData(body []byte) error {
	return c.write(fmt.Sprintf("data: %s\r\n\r\n", body))
}

// writeComment sends an SSE comment line, e.g. the keepalive frame.
func (c *sseConn) writeComment(comment string) error {
	return c.write(fmt.Sprintf(": %s\r\n\r\n", comment))
}

func (c *sseConn) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	// Best effort; not every ResponseWriter supports deadlines.
	_ = c.rc.SetWriteDeadline(time.Now().Add(SSE_WRITE_TIMEOUT))
	if _, err := fmt.Fprint(c.writer, frame); err != nil {
		return err
	}
	c.flusher.Flush()
	_ = c.rc.SetWriteDeadline(time.Time{})
	c.lastSent = time.Now()
	return nil
}

// sinceLastSent returns the idle time of the stream.
func (c *sseConn) sinceLastSent() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSent)
}

// close releases the handler goroutine blocked on done. Idempotent.
func (c *sseConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// connTable guards the SSE connection map, bounded at MAX_SSE_CONNECTIONS.
type connTable struct {
	mu    sync.Mutex
	conns map[string]*sseConn
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[string]*sseConn)}
}

// add registers the connection, failing at capacity.
func (t *connTable) add(c *sseConn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) >= MAX_SSE_CONNECTIONS {
		return fmt.Errorf("sse connection limit of %d reached", MAX_SSE_CONNECTIONS)
	}
	t.conns[c.id] = c
	return nil
}

// remove deletes the connection from the table. It does not close it.
func (t *connTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

// snapshot returns the live connections; writes happen on the copy with the
// lock released.
func (t *connTable) snapshot() []*sseConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := make([]*sseConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	return conns
}

// removeForSession detaches and returns every connection bound to the
// session.
func (t *connTable) removeForSession(sessionId string) []*sseConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []*sseConn
	for id, c := range t.conns {
		if c.sessionId == sessionId {
			delete(t.conns, id)
			removed = append(removed, c)
		}
	}
	return removed
}

// drainAll detaches and returns every connection.
func (t *connTable) drainAll() []*sseConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	drained := make([]*sseConn, 0, len(t.conns))
	for _, c := range t.conns {
		drained = append(drained, c)
	}
	t.conns = make(map[string]*sseConn)
	return drained
}

// count returns the number of live connections.
func (t *connTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

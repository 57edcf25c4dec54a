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
	"sync"
	"time"
)

// session is one HTTP client identity, created on a successful initialize
// and destroyed on DELETE, expiry, or transport stop.
type session struct {
	id              string
	protocolVersion string
	createdAt       time.Time
	lastActivity    time.Time
	initialized     bool
}

// sessionTable guards the session map. Expiry is checked inline on access
// and reaped opportunistically; there is no background sweeper.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

// create records a new session. At the MAX_SESSIONS bound it reaps expired
// entries first and fails only if the table is still full. The ids of reaped
// sessions are returned so the caller can drop their SSE connections.
func (t *sessionTable) create(id, protocolVersion string) ([]string, error) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var reaped []string
	if len(t.sessions) >= MAX_SESSIONS {
		reaped = t.reapLocked(now)
		if len(t.sessions) >= MAX_SESSIONS {
			return reaped, fmt.Errorf("session limit of %d reached", MAX_SESSIONS)
		}
	}
	t.sessions[id] = &session{
		id:              id,
		protocolVersion: protocolVersion,
		createdAt:       now,
		lastActivity:    now,
	}
	return reaped, nil
}

// touch validates the session and refreshes its activity timestamp. An
// expired session is removed; expired reports that case so the caller can
// drop its SSE connections.
func (t *sessionTable) touch(id string) (ok, expired bool) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	s, found := t.sessions[id]
	if !found {
		return false, false
	}
	if now.Sub(s.lastActivity) > SESSION_TIMEOUT {
		delete(t.sessions, id)
		return false, true
	}
	s.lastActivity = now
	return true, false
}

// markInitialized flags the session as having completed the initialized
// handshake. Unknown ids are ignored.
func (t *sessionTable) markInitialized(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, found := t.sessions[id]; found {
		s.initialized = true
	}
}

// remove deletes the session, reporting whether it existed.
func (t *sessionTable) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.sessions[id]; !found {
		return false
	}
	delete(t.sessions, id)
	return true
}

// reapLocked removes every expired session and returns their ids. Caller
// holds the lock.
func (t *sessionTable) reapLocked(now time.Time) []string {
	var reaped []string
	for id, s := range t.sessions {
		if now.Sub(s.lastActivity) > SESSION_TIMEOUT {
			delete(t.sessions, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// dropAll clears the table.
func (t *sessionTable) dropAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[string]*session)
}

// count returns the number of live sessions.
func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

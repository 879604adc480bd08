/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sdk provides a client session for talking to a kvdb server.
package sdk

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	kverrors "kvdb/internal/errors"
	"kvdb/internal/protocol"
)

// DefaultDialTimeout bounds Dial when the context has no deadline.
const DefaultDialTimeout = 5 * time.Second

// SessionState represents the state of a session.
type SessionState int

const (
	// SessionStateActive means the connection is open and usable.
	SessionStateActive SessionState = iota
	// SessionStateClosed means the session was closed locally or the
	// server ended the connection.
	SessionStateClosed
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case SessionStateActive:
		return "active"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one persistent connection to a server. Requests on a session
// are serialized; a Session is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	addr          string
	state         SessionState
	namespace     protocol.Namespace
	credential    string
	hasCredential bool
}

// Dial connects to addr and returns an active session in the public
// namespace.
func Dial(ctx context.Context, addr string) (*Session, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, kverrors.ConnectionLost(err).WithDetail(fmt.Sprintf("Address: %s", addr))
	}
	return NewSession(conn), nil
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn) *Session {
	return &Session{
		conn:      conn,
		r:         bufio.NewReader(conn),
		w:         bufio.NewWriter(conn),
		addr:      conn.RemoteAddr().String(),
		state:     SessionStateActive,
		namespace: protocol.Public,
	}
}

// Addr returns the server address.
func (s *Session) Addr() string {
	return s.addr
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetNamespace selects the namespace used by subsequent requests.
func (s *Session) SetNamespace(ns protocol.Namespace) {
	s.mu.Lock()
	s.namespace = ns
	s.mu.Unlock()
}

// Namespace returns the selected namespace.
func (s *Session) Namespace() protocol.Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namespace
}

// SetCredential sets the secret sent with private-namespace requests.
func (s *Session) SetCredential(secret string) {
	s.mu.Lock()
	s.credential = secret
	s.hasCredential = true
	s.mu.Unlock()
}

// ClearCredential stops sending a credential.
func (s *Session) ClearCredential() {
	s.mu.Lock()
	s.credential = ""
	s.hasCredential = false
	s.mu.Unlock()
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (string, error) {
	resp, err := s.do(protocol.MethodGet, key, "")
	if err != nil {
		return "", err
	}
	if err := statusError(resp.Status, key); err != nil {
		return "", err
	}
	return resp.Body, nil
}

// Put stores value under key.
func (s *Session) Put(key, value string) error {
	resp, err := s.do(protocol.MethodPut, key, value)
	if err != nil {
		return err
	}
	return statusError(resp.Status, key)
}

// Delete removes key.
func (s *Session) Delete(key string) error {
	resp, err := s.do(protocol.MethodDelete, key, "")
	if err != nil {
		return err
	}
	return statusError(resp.Status, key)
}

// Do sends an arbitrary request and returns the raw response.
func (s *Session) Do(req *protocol.Request) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundTrip(req)
}

// Close closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStateClosed {
		return nil
	}
	s.state = SessionStateClosed
	return s.conn.Close()
}

func (s *Session) do(method, key, body string) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &protocol.Request{
		Method: method,
		Path:   protocol.BuildPath(s.namespace, key),
		Body:   body,
	}
	if s.namespace == protocol.Private && s.hasCredential {
		req.Credential = s.credential
		req.HasCredential = true
	}
	return s.roundTrip(req)
}

// roundTrip must be called with s.mu held.
func (s *Session) roundTrip(req *protocol.Request) (*protocol.Response, error) {
	if s.state == SessionStateClosed {
		return nil, kverrors.ConnectionLost(net.ErrClosed)
	}
	if err := req.Write(s.w); err != nil {
		return nil, s.fail(err)
	}
	if err := s.w.Flush(); err != nil {
		return nil, s.fail(err)
	}
	resp, err := protocol.ReadResponse(s.r)
	if err != nil {
		return nil, s.fail(err)
	}
	if resp.Status == http.StatusServiceUnavailable {
		// The server closes the connection after refusing admission.
		s.state = SessionStateClosed
		s.conn.Close()
	}
	return resp, nil
}

func (s *Session) fail(err error) error {
	s.state = SessionStateClosed
	s.conn.Close()
	return kverrors.ConnectionLost(err)
}

// statusError maps a non-200 response status to a KVError.
func statusError(status int, key string) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		return kverrors.InvalidPath(key)
	case http.StatusUnauthorized:
		return kverrors.AuthenticationFailed()
	case http.StatusNotFound:
		return kverrors.KeyNotFound(key)
	case http.StatusServiceUnavailable:
		return kverrors.ServiceUnavailable(0).WithDetail("")
	default:
		return kverrors.StoreFault(fmt.Errorf("server returned status %d", status))
	}
}

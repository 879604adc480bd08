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

package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	kverrors "kvdb/internal/errors"
	"kvdb/internal/logging"
	"kvdb/internal/protocol"
)

// handleConnection runs one session until the stream ends or a request
// cannot be parsed.
func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	connLog := log.With("session", logging.NewSessionID(), "remote_addr", remoteAddr)
	connStart := time.Now()
	requests := 0

	connLog.Info("New client session established")

	// Deferred cleanup: exactly one termination per admitted session.
	defer func() {
		s.endSession()
		s.untrack(conn)
		conn.Close()
		connLog.Info("Client session terminated",
			"duration", time.Since(connStart),
			"requests", requests,
		)
		s.sessions.Done()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := protocol.ReadRequest(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if answerable(err) {
				connLog.Warn("Malformed request", "error", err)
				_ = protocol.WriteResponse(w, http.StatusBadRequest, "")
				_ = w.Flush()
			} else {
				connLog.Debug("Read failed", "error", err)
			}
			return
		}
		requests++

		reqCtx := logging.NewRequestContext(req.Method, req.Path)
		status, body := s.serve(req)
		reqCtx.LogComplete(connLog, status)

		if err := protocol.WriteResponse(w, status, body); err != nil {
			connLog.Debug("Write failed", "error", err)
			return
		}
		if err := w.Flush(); err != nil {
			connLog.Debug("Write failed", "error", err)
			return
		}
	}
}

// serve validates, authorizes and dispatches one request and returns the
// response status and body.
func (s *Server) serve(req *protocol.Request) (int, string) {
	ns, key, err := protocol.ParsePath(req.Path)
	if err != nil {
		return kverrors.StatusOf(err), ""
	}

	s.guard.Lock()
	defer s.guard.Unlock()

	if ns == protocol.Private && !s.auth.Check(req.Credential, req.HasCredential) {
		s.stats.RecordAuthFailure()
		return kverrors.AuthenticationFailed().Status(), ""
	}

	body, err := s.dispatch(ns, key, req)
	if err != nil {
		return kverrors.StatusOf(err), ""
	}
	return http.StatusOK, body
}

// dispatch executes one store operation. It must be called with the store
// guard held.
func (s *Server) dispatch(ns protocol.Namespace, key string, req *protocol.Request) (string, error) {
	store := s.stores[ns]

	switch req.Method {
	case protocol.MethodPut:
		if err := store.Add(key, req.Body); err != nil {
			return "", kverrors.StoreFault(err)
		}
		s.stats.RecordPut()
		return "", nil

	case protocol.MethodGet:
		value, ok := store.Retrieve(key)
		if !ok {
			return "", kverrors.KeyNotFound(key)
		}
		s.stats.RecordGet()
		return value, nil

	case protocol.MethodDelete:
		if !store.Delete(key) {
			return "", kverrors.KeyNotFound(key)
		}
		s.stats.RecordDelete()
		return "", nil

	default:
		return "", kverrors.UnknownMethod(req.Method)
	}
}

// answerable reports whether a failed read still leaves a stream that a
// 400 response can be written to: the peer did not hang up mid-request and
// the socket itself did not fail.
func answerable(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	return !errors.As(err, &opErr)
}

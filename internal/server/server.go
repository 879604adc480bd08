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

/*
Package server implements the kvdb TCP server.

Server Architecture Overview:
=============================

The server accepts TCP connections and serves each admitted connection in
its own goroutine. Every connection is a session that may carry any number
of requests; see package protocol for the wire format.

Connection Lifecycle:
=====================

  1. Client connects via TCP
  2. The accept loop runs admission control: if the connection limit is
     non-zero and already reached, a 503 response is written and the
     connection is closed without being counted
  3. Otherwise connected is incremented and a session goroutine starts
  4. The session reads, authorizes, dispatches and answers requests
  5. On end of stream or a malformed request the session terminates:
     connected is decremented, completed is incremented, and the
     connection is closed

Thread Safety:
==============

One mutex, the store guard, protects both namespace stores and the
statistics registry. It is held for admission, for the private credential
check and dispatch of each request, for session termination, and while a
statistics report is written. Reports and metrics scrapes therefore always
see a snapshot consistent with some serialization of completed requests.

Reporting:
==========

A separate goroutine waits on the report trigger (SIGHUP in dbserver) and
writes the six statistics lines to the diagnostic output.
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kvdb/internal/auth"
	"kvdb/internal/banner"
	"kvdb/internal/discovery"
	kverrors "kvdb/internal/errors"
	"kvdb/internal/health"
	"kvdb/internal/logging"
	"kvdb/internal/metrics"
	"kvdb/internal/protocol"
	"kvdb/internal/storage"
)

// Package-level logger for the server component.
var log = logging.NewLogger("server")

// acceptBackoff is the pause after a non-fatal Accept error.
const acceptBackoff = 50 * time.Millisecond

// Options configures a Server.
type Options struct {
	// Port to listen on; 0 requests an ephemeral port.
	Port int
	// Host to bind; empty means all interfaces.
	Host string
	// ConnectionLimit is the maximum number of concurrent sessions;
	// 0 means unlimited.
	ConnectionLimit int
	// Secret guards the private namespace.
	Secret string

	// Diag receives the bound port line and statistics reports.
	// Defaults to os.Stderr.
	Diag io.Writer
	// ReportTrigger wakes the report goroutine. Nil disables reports.
	ReportTrigger <-chan os.Signal

	// Public and Private override the namespace stores. Nil means a new
	// empty StringStore.
	Public  storage.Engine
	Private storage.Engine

	// MetricsAddr enables the Prometheus and health HTTP server.
	MetricsAddr string
	// Advertise publishes the server over mDNS as Instance.
	Advertise bool
	Instance  string
}

// Server is the kvdb TCP server.
type Server struct {
	opts Options
	auth *auth.Authenticator

	// guard is the store guard; see the package documentation.
	guard  sync.Mutex
	stores map[protocol.Namespace]storage.Engine
	stats  metrics.Stats

	listener  net.Listener
	metricsLn net.Listener
	metrics   *metrics.Server
	health    *health.Checker

	// connsMu protects conns and closing.
	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
	closing  bool
	sessions sync.WaitGroup
}

// New creates a server. Call Listen, then Run.
func New(opts Options) *Server {
	if opts.Diag == nil {
		opts.Diag = os.Stderr
	}
	if opts.Public == nil {
		opts.Public = storage.NewStringStore()
	}
	if opts.Private == nil {
		opts.Private = storage.NewStringStore()
	}

	s := &Server{
		opts: opts,
		auth: auth.NewAuthenticator(opts.Secret),
		stores: map[protocol.Namespace]storage.Engine{
			protocol.Public:  opts.Public,
			protocol.Private: opts.Private,
		},
		conns: make(map[net.Conn]struct{}),
	}

	s.health = health.NewChecker(banner.Version)
	s.health.RegisterCheck("listener", health.ListenerCheck(s.listenerErr))
	s.health.RegisterCheck("capacity", health.CapacityCheck(s.Connected, opts.ConnectionLimit))
	s.metrics = metrics.NewServer(opts.MetricsAddr, metrics.NewCollector(s.Snapshot), s.health)

	return s
}

// Listen binds the listening socket and writes the bound port, followed by
// a newline, to the diagnostic output. It also binds the metrics listener
// when one is configured.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("Failed to listen", "address", addr, "error", err)
		return kverrors.ListenFailed(addr, err)
	}

	if s.opts.MetricsAddr != "" {
		mln, err := net.Listen("tcp", s.opts.MetricsAddr)
		if err != nil {
			ln.Close()
			log.Error("Failed to listen for metrics", "address", s.opts.MetricsAddr, "error", err)
			return kverrors.ListenFailed(s.opts.MetricsAddr, err)
		}
		s.metricsLn = mln
	}

	s.listener = ln
	fmt.Fprintf(s.opts.Diag, "%d\n", s.Port())
	log.Info("Listening", "address", ln.Addr().String(), "connection_limit", s.opts.ConnectionLimit)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// MetricsAddr returns the bound metrics address, or nil if disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

// Run serves until ctx is cancelled or the listener fails. It calls Listen
// first if that has not been done. Open sessions are closed before Run
// returns.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		s.connsMu.Lock()
		s.closing = true
		s.connsMu.Unlock()
		return s.listener.Close()
	})
	g.Go(func() error {
		return s.acceptLoop(gctx)
	})
	g.Go(func() error {
		s.reportLoop(gctx)
		return nil
	})

	if s.metricsLn != nil {
		g.Go(func() error {
			return s.metrics.ServeListener(gctx, s.metricsLn)
		})
	}

	if s.opts.Advertise {
		g.Go(func() error {
			adv, err := discovery.Advertise(discovery.Config{
				Instance: s.opts.Instance,
				Port:     s.Port(),
				Version:  banner.Version,
			})
			if err != nil {
				// Discovery is optional; the server keeps running.
				log.Warn("mDNS advertisement failed", "error", err)
				return nil
			}
			<-gctx.Done()
			return adv.Shutdown()
		})
	}

	err := g.Wait()
	s.closeSessions()
	s.sessions.Wait()

	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	log.Info("Server stopped")
	return err
}

// acceptLoop accepts connections until the listener is closed.
func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info("Server stopped, exiting accept loop")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Usually transient (e.g. too many open files).
			log.Warn("Accept error", "error", err)
			time.Sleep(acceptBackoff)
			continue
		}

		log.Debug("New connection accepted", "remote_addr", conn.RemoteAddr().String())
		if !s.admit() {
			go s.reject(conn)
			continue
		}
		if !s.track(conn) {
			s.endSession()
			conn.Close()
			continue
		}
		s.sessions.Add(1)
		go s.handleConnection(conn)
	}
}

// admit counts the connection as connected unless the limit is reached.
// Check and increment happen under the store guard so concurrent
// terminations cannot race the decision.
func (s *Server) admit() bool {
	s.guard.Lock()
	defer s.guard.Unlock()

	limit := s.opts.ConnectionLimit
	if limit != 0 && s.stats.Connected() >= limit {
		return false
	}
	s.stats.SessionOpened()
	return true
}

// reject answers 503 and closes conn without counting it.
func (s *Server) reject(conn net.Conn) {
	defer conn.Close()
	log.Info("Connection rejected, limit reached",
		"remote_addr", conn.RemoteAddr().String(),
		"connection_limit", s.opts.ConnectionLimit,
	)
	err := kverrors.ServiceUnavailable(s.opts.ConnectionLimit)
	if werr := protocol.WriteResponse(conn, err.Status(), ""); werr != nil {
		log.Debug("Failed to write rejection", "error", werr)
	}
}

// endSession records a session termination.
func (s *Server) endSession() {
	s.guard.Lock()
	s.stats.SessionClosed()
	s.guard.Unlock()
}

func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) closeSessions() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.closing = true
	for conn := range s.conns {
		conn.Close()
	}
}

// Snapshot returns the current statistics under the store guard.
func (s *Server) Snapshot() metrics.Snapshot {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.stats.Snapshot()
}

// Connected returns the number of open sessions.
func (s *Server) Connected() int {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.stats.Connected()
}

// Health returns the server's health checker.
func (s *Server) Health() *health.Checker {
	return s.health
}

func (s *Server) listenerErr() error {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.listener == nil {
		return errors.New("not listening")
	}
	if s.closing {
		return errors.New("listener closed")
	}
	return nil
}

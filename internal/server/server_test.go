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
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	kverrors "kvdb/internal/errors"
	"kvdb/internal/logging"
	"kvdb/internal/metrics"
	"kvdb/internal/protocol"
	"kvdb/internal/storage"
)

const testSecret = "opensesame"

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func TestMain(m *testing.M) {
	logging.SetGlobalLevel(logging.ERROR)
	os.Exit(m.Run())
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	*Server
	addr    string
	diag    *syncBuffer
	trigger chan os.Signal
}

// startServer listens on an ephemeral loopback port and runs the server
// until the test ends.
func startServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	diag := &syncBuffer{}
	trigger := make(chan os.Signal, 1)
	opts.Host = "127.0.0.1"
	opts.Diag = diag
	opts.ReportTrigger = trigger
	if opts.Secret == "" {
		opts.Secret = testSecret
	}

	srv := New(opts)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return &testServer{
		Server:  srv,
		addr:    srv.Addr().String(),
		diag:    diag,
		trigger: trigger,
	}
}

type testConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (ts *testServer) dial(t *testing.T) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// raw writes a request verbatim and reads one response.
func (c *testConn) raw(request string) *protocol.Response {
	c.t.Helper()
	_, err := io.WriteString(c.conn, request)
	require.NoError(c.t, err)
	resp, err := protocol.ReadResponse(c.r)
	require.NoError(c.t, err)
	return resp
}

func (c *testConn) do(method, path, credential string, hasCredential bool, body string) *protocol.Response {
	c.t.Helper()
	var buf bytes.Buffer
	req := &protocol.Request{
		Method:        method,
		Path:          path,
		Credential:    credential,
		HasCredential: hasCredential,
		Body:          body,
	}
	require.NoError(c.t, req.Write(&buf))
	return c.raw(buf.String())
}

// expectClosed asserts the server has closed the connection.
func (c *testConn) expectClosed() {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(waitFor))
	_, err := c.r.ReadByte()
	assert.Equal(c.t, io.EOF, err)
}

func TestPublicScenario(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	resp := c.do("PUT", "/public/alpha", "", false, "42")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "", resp.Body)

	resp = c.do("GET", "/public/alpha", "", false, "")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "42", resp.Body)

	resp = c.do("DELETE", "/public/alpha", "", false, "")
	assert.Equal(t, http.StatusOK, resp.Status)

	resp = c.do("GET", "/public/alpha", "", false, "")
	assert.Equal(t, http.StatusNotFound, resp.Status)

	resp = c.do("DELETE", "/public/alpha", "", false, "")
	assert.Equal(t, http.StatusNotFound, resp.Status)

	want := metrics.Snapshot{Connected: 1, Gets: 1, Puts: 1, Deletes: 1}
	if diff := cmp.Diff(want, ts.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestPrivateCredentialScenario(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	resp := c.do("PUT", "/private/beta", testSecret, true, "secret-value")
	require.Equal(t, http.StatusOK, resp.Status)

	resp = c.do("GET", "/private/beta", "wrong", true, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, uint64(1), ts.Snapshot().AuthFailures)

	resp = c.do("GET", "/private/beta", "", false, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, uint64(2), ts.Snapshot().AuthFailures)

	resp = c.do("GET", "/private/beta", testSecret, true, "")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "secret-value", resp.Body)

	// A refused DELETE leaves the key in place.
	resp = c.do("DELETE", "/private/beta", "", false, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	snap := ts.Snapshot()
	assert.Equal(t, uint64(3), snap.AuthFailures)
	assert.Equal(t, uint64(1), snap.Puts)
	assert.Equal(t, uint64(1), snap.Gets)
	assert.Equal(t, uint64(0), snap.Deletes)
}

func TestNamespacesAreIndependent(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	require.Equal(t, http.StatusOK, c.do("PUT", "/public/k", "", false, "pub").Status)

	resp := c.do("GET", "/private/k", testSecret, true, "")
	assert.Equal(t, http.StatusNotFound, resp.Status)

	require.Equal(t, http.StatusOK, c.do("PUT", "/private/k", testSecret, true, "priv").Status)
	assert.Equal(t, "pub", c.do("GET", "/public/k", "", false, "").Body)
	assert.Equal(t, "priv", c.do("GET", "/private/k", testSecret, true, "").Body)
}

func TestPublicIgnoresCredential(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	resp := c.do("PUT", "/public/k", "wrong", true, "v")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, uint64(0), ts.Snapshot().AuthFailures)
}

func TestBadPathsKeepSessionOpen(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	for _, path := range []string{"/badnamespace/key", "/public/", "/public", "/", "//public/k"} {
		resp := c.do("GET", path, "", false, "")
		assert.Equal(t, http.StatusBadRequest, resp.Status, "path %q", path)
	}

	// Bad private-looking paths are rejected before authorization.
	resp := c.do("GET", "/private/", "", false, "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	want := metrics.Snapshot{Connected: 1}
	if diff := cmp.Diff(want, ts.Snapshot()); diff != "" {
		t.Errorf("Counters changed (-want +got):\n%s", diff)
	}

	resp = c.do("PUT", "/public/still-open", "", false, "yes")
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestBadEscapeKeepsSessionOpen(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	resp := c.raw("GET /public/a%ZZ HTTP/1.1\r\n\r\n")
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = c.raw("PUT /public/a%ZZ HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc")
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = c.do("PUT", "/public/ok", "", false, "v")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, uint64(1), ts.Snapshot().Puts)
}

func TestQueryAndFragmentArePartOfKey(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	resp := c.raw("PUT /public/a?x=1 HTTP/1.1\r\nContent-Length: 1\r\n\r\nz")
	require.Equal(t, http.StatusOK, resp.Status)

	assert.Equal(t, http.StatusNotFound, c.do("GET", "/public/a", "", false, "").Status)
	assert.Equal(t, http.StatusNotFound, c.raw("GET /public/a?y=1 HTTP/1.1\r\n\r\n").Status)

	resp = c.raw("GET /public/a?x=1 HTTP/1.1\r\n\r\n")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "z", resp.Body)

	// The escaped form names the same key.
	resp = c.do("GET", protocol.BuildPath(protocol.Public, "a?x=1"), "", false, "")
	assert.Equal(t, "z", resp.Body)

	require.Equal(t, http.StatusOK, c.raw("PUT /public/b#f HTTP/1.1\r\nContent-Length: 1\r\n\r\ny").Status)
	assert.Equal(t, http.StatusNotFound, c.do("GET", "/public/b", "", false, "").Status)
	assert.Equal(t, "y", c.do("GET", protocol.BuildPath(protocol.Public, "b#f"), "", false, "").Body)
}

func TestAbsoluteTargetRejected(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	require.Equal(t, http.StatusOK, c.do("PUT", "/public/a", "", false, "z").Status)
	for _, target := range []string{"http://x/public/a", "public/a", "*"} {
		resp := c.raw("GET " + target + " HTTP/1.1\r\n\r\n")
		assert.Equal(t, http.StatusBadRequest, resp.Status, "target %q", target)
	}
	assert.Equal(t, "z", c.do("GET", "/public/a", "", false, "").Body)
}

func TestSecretWithSurroundingWhitespace(t *testing.T) {
	const secret = " pw\t "
	ts := startServer(t, Options{Secret: secret})
	c := ts.dial(t)

	assert.Equal(t, http.StatusOK, c.do("PUT", "/private/k", secret, true, "v").Status)
	assert.Equal(t, http.StatusOK, c.raw("GET /private/k HTTP/1.1\r\nAuthorization:  pw\t \r\n\r\n").Status)

	for _, cred := range []string{"pw", " pw", "pw\t "} {
		resp := c.do("GET", "/private/k", cred, true, "")
		assert.Equal(t, http.StatusUnauthorized, resp.Status, "credential %q", cred)
	}
	assert.Equal(t, uint64(3), ts.Snapshot().AuthFailures)
}

func TestAnswerable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{kverrors.MalformedRequest(errors.New("malformed request line")), true},
		{kverrors.MalformedRequest(protocol.ErrBodyTooLarge), true},
		{kverrors.MalformedRequest(io.ErrUnexpectedEOF), false},
		{kverrors.MalformedRequest(net.ErrClosed), false},
		{kverrors.MalformedRequest(os.ErrDeadlineExceeded), false},
		{kverrors.MalformedRequest(&net.OpError{Op: "read", Err: errors.New("connection reset")}), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, answerable(tt.err), "error %v", tt.err)
	}
}

func TestUnknownMethod(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	resp := c.raw("PATCH /public/k HTTP/1.1\r\n\r\n")
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	// Private requests are authorized before the method is examined.
	resp = c.raw("POST /private/k HTTP/1.1\r\n\r\n")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = c.raw("POST /private/k HTTP/1.1\r\nAuthorization: " + testSecret + "\r\n\r\n")
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	snap := ts.Snapshot()
	assert.Equal(t, uint64(1), snap.AuthFailures)
	assert.Equal(t, uint64(0), snap.Gets+snap.Puts+snap.Deletes)
}

func TestKeyWithSlashes(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	require.Equal(t, http.StatusOK, c.do("PUT", "/public/a/b/c", "", false, "deep").Status)
	assert.Equal(t, "deep", c.do("GET", "/public/a/b/c", "", false, "").Body)
	assert.Equal(t, http.StatusNotFound, c.do("GET", "/public/a", "", false, "").Status)
}

func TestMalformedRequestTerminatesSession(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)

	resp := c.raw("this is not http\r\n\r\n")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	c.expectClosed()

	require.Eventually(t, func() bool {
		snap := ts.Snapshot()
		return snap.Connected == 0 && snap.Completed == 1
	}, waitFor, tick)
}

func TestCleanEOFTerminatesSession(t *testing.T) {
	ts := startServer(t, Options{})

	c := ts.dial(t)
	require.Equal(t, http.StatusOK, c.do("PUT", "/public/k", "", false, "v").Status)
	require.NoError(t, c.conn.Close())

	c2 := ts.dial(t)
	require.Equal(t, http.StatusOK, c2.do("GET", "/public/k", "", false, "").Status)
	c2.conn.(*net.TCPConn).CloseWrite()
	c2.expectClosed()

	require.Eventually(t, func() bool {
		snap := ts.Snapshot()
		return snap.Connected == 0 && snap.Completed == 2
	}, waitFor, tick)
}

func TestAdmissionLimit(t *testing.T) {
	ts := startServer(t, Options{ConnectionLimit: 2})

	first := ts.dial(t)
	second := ts.dial(t)
	// A response proves the connection was admitted.
	require.Equal(t, http.StatusNotFound, first.do("GET", "/public/x", "", false, "").Status)
	require.Equal(t, http.StatusNotFound, second.do("GET", "/public/x", "", false, "").Status)

	third := ts.dial(t)
	resp, err := protocol.ReadResponse(third.r)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	third.expectClosed()

	snap := ts.Snapshot()
	assert.Equal(t, 2, snap.Connected)
	assert.Equal(t, uint64(0), snap.Completed)

	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool { return ts.Connected() == 1 }, waitFor, tick)

	fourth := ts.dial(t)
	assert.Equal(t, http.StatusNotFound, fourth.do("GET", "/public/x", "", false, "").Status)
	assert.Equal(t, 2, ts.Connected())
}

func TestAdmissionUnlimited(t *testing.T) {
	ts := startServer(t, Options{ConnectionLimit: 0})

	const n = 25
	conns := make([]*testConn, n)
	for i := range conns {
		conns[i] = ts.dial(t)
	}
	for i, c := range conns {
		resp := c.do("PUT", "/public/k"+strconv.Itoa(i), "", false, "v")
		assert.Equal(t, http.StatusOK, resp.Status)
	}
	assert.Equal(t, n, ts.Connected())
}

// faultyStore fails every Add.
type faultyStore struct {
	*storage.StringStore
}

func (faultyStore) Add(key, value string) error {
	return storage.ErrStoreFault
}

func TestStoreFaultIsInternalError(t *testing.T) {
	ts := startServer(t, Options{Public: faultyStore{storage.NewStringStore()}})
	c := ts.dial(t)

	resp := c.do("PUT", "/public/k", "", false, "v")
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, uint64(0), ts.Snapshot().Puts)

	// The session survives and the private store is unaffected.
	resp = c.do("PUT", "/private/k", testSecret, true, "v")
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestEmptySecret(t *testing.T) {
	srv := New(Options{Secret: "", Diag: io.Discard})
	assert.True(t, srv.auth.Check("", true))
	assert.False(t, srv.auth.Check("", false))
}

func TestListenPrintsPort(t *testing.T) {
	ts := startServer(t, Options{})
	first := strings.SplitN(ts.diag.String(), "\n", 2)[0]
	assert.Equal(t, strconv.Itoa(ts.Port()), first)
	assert.NotZero(t, ts.Port())
}

func TestListenFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := New(Options{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		Diag: io.Discard,
	})
	err = srv.Listen()
	require.Error(t, err)

	kvErr, ok := kverrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kverrors.ErrCodeListenFailed, kvErr.Code)
	assert.Equal(t, kverrors.ExitListen, kvErr.ExitCode())
}

func TestReportOnTrigger(t *testing.T) {
	ts := startServer(t, Options{})
	c := ts.dial(t)
	c.do("PUT", "/public/a", "", false, "1")
	c.do("GET", "/public/a", "", false, "")
	c.do("GET", "/private/a", "", false, "")

	ts.trigger <- unix.SIGHUP

	want := "Connected clients:1\n" +
		"Completed clients:0\n" +
		"Auth failures:1\n" +
		"GET operations:1\n" +
		"PUT operations:1\n" +
		"DELETE operations:0\n"
	require.Eventually(t, func() bool {
		return strings.HasSuffix(ts.diag.String(), want)
	}, waitFor, tick, "diag output: %q", ts.diag.String())
}

// parseReports extracts the PUT counts from every report in out.
func parseReports(t *testing.T, out string) []uint64 {
	t.Helper()
	var puts []uint64
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "PUT operations:"); ok {
			n, err := strconv.ParseUint(v, 10, 64)
			require.NoError(t, err)
			puts = append(puts, n)
		}
	}
	return puts
}

func TestReportDuringConcurrentPuts(t *testing.T) {
	ts := startServer(t, Options{})

	const clients, perClient = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		c := ts.dial(t)
		wg.Add(1)
		go func(i int, c *testConn) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				var buf bytes.Buffer
				req := &protocol.Request{
					Method: "PUT",
					Path:   "/public/k" + strconv.Itoa(i) + "-" + strconv.Itoa(j),
					Body:   "v",
				}
				if err := req.Write(&buf); err != nil {
					t.Error(err)
					return
				}
				if _, err := c.conn.Write(buf.Bytes()); err != nil {
					t.Error(err)
					return
				}
				resp, err := protocol.ReadResponse(c.r)
				if err != nil || resp.Status != http.StatusOK {
					t.Errorf("PUT failed: %v %+v", err, resp)
					return
				}
			}
		}(i, c)
	}

	stop := make(chan struct{})
	fired := make(chan struct{})
	go func() {
		defer close(fired)
		for {
			select {
			case <-stop:
				return
			case ts.trigger <- unix.SIGHUP:
				time.Sleep(time.Millisecond)
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-fired
	require.NoError(t, ts.Report())

	puts := parseReports(t, ts.diag.String())
	require.NotEmpty(t, puts)
	for i := 1; i < len(puts); i++ {
		assert.LessOrEqual(t, puts[i-1], puts[i], "report %d went backwards", i)
	}
	for _, n := range puts {
		assert.LessOrEqual(t, n, uint64(clients*perClient))
	}
	assert.Equal(t, uint64(clients*perClient), puts[len(puts)-1])
	assert.Equal(t, uint64(clients*perClient), ts.Snapshot().Puts)
}

func TestStatsAccounting(t *testing.T) {
	ts := startServer(t, Options{})

	for i := 0; i < 5; i++ {
		c := ts.dial(t)
		require.Equal(t, http.StatusOK, c.do("PUT", "/public/k", "", false, "v").Status)
		require.NoError(t, c.conn.Close())
	}
	require.Eventually(t, func() bool {
		snap := ts.Snapshot()
		return snap.Connected == 0 && snap.Completed == 5
	}, waitFor, tick)
	assert.Equal(t, uint64(5), ts.Snapshot().Puts)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := startServer(t, Options{MetricsAddr: "127.0.0.1:0"})
	c := ts.dial(t)
	require.Equal(t, http.StatusOK, c.do("PUT", "/public/k", "", false, "v").Status)

	base := "http://" + ts.MetricsAddr().String()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, waitFor, tick)
	assert.Contains(t, string(body), `kvdb_operations_total{op="PUT"} 1`)
	assert.Contains(t, string(body), "kvdb_clients_connected 1")

	resp, err := http.Get(base + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1", Diag: io.Discard})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Connected() == 1 }, waitFor, tick)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	// The open session was closed on shutdown.
	conn.SetReadDeadline(time.Now().Add(waitFor))
	_, err = conn.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, io.EOF), "got %v", err)
	assert.Equal(t, uint64(1), srv.Snapshot().Completed)
}

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

package sdk

import (
	"bufio"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "kvdb/internal/errors"
	"kvdb/internal/protocol"
)

// fakeServer answers each request on conn with the next canned response
// and records what it saw.
func fakeServer(t *testing.T, conn net.Conn, responses []int, bodies []string) <-chan []*protocol.Request {
	t.Helper()
	seen := make(chan []*protocol.Request, 1)
	go func() {
		defer conn.Close()
		r := bufio.NewReader(conn)
		var reqs []*protocol.Request
		for i := range responses {
			req, err := protocol.ReadRequest(r)
			if err != nil {
				break
			}
			reqs = append(reqs, req)
			if err := protocol.WriteResponse(conn, responses[i], bodies[i]); err != nil {
				break
			}
		}
		seen <- reqs
	}()
	return seen
}

func TestSessionOperations(t *testing.T) {
	client, server := net.Pipe()
	seen := fakeServer(t, server,
		[]int{http.StatusOK, http.StatusOK, http.StatusOK, http.StatusNotFound},
		[]string{"", "42", "", ""})

	s := NewSession(client)
	defer s.Close()

	require.NoError(t, s.Put("alpha", "42"))
	v, err := s.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "42", v)
	require.NoError(t, s.Delete("alpha"))

	_, err = s.Get("alpha")
	assert.Equal(t, kverrors.ErrCodeNotFound, kverrors.GetCode(err))

	reqs := <-seen
	require.Len(t, reqs, 4)
	assert.Equal(t, "PUT", reqs[0].Method)
	assert.Equal(t, "/public/alpha", reqs[0].Path)
	assert.Equal(t, "42", reqs[0].Body)
	assert.Equal(t, "DELETE", reqs[2].Method)
	for _, req := range reqs {
		assert.False(t, req.HasCredential, "public requests carry no credential")
	}
}

func TestSessionPrivateCredential(t *testing.T) {
	client, server := net.Pipe()
	seen := fakeServer(t, server,
		[]int{http.StatusUnauthorized, http.StatusOK},
		[]string{"", "v"})

	s := NewSession(client)
	defer s.Close()
	s.SetNamespace(protocol.Private)
	assert.Equal(t, protocol.Private, s.Namespace())

	_, err := s.Get("beta")
	assert.True(t, kverrors.IsAuthError(err))

	s.SetCredential("opensesame")
	v, err := s.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	reqs := <-seen
	require.Len(t, reqs, 2)
	assert.False(t, reqs[0].HasCredential)
	assert.True(t, reqs[1].HasCredential)
	assert.Equal(t, "opensesame", reqs[1].Credential)
	assert.Equal(t, "/private/beta", reqs[1].Path)
}

func TestSessionServiceUnavailableCloses(t *testing.T) {
	client, server := net.Pipe()
	fakeServer(t, server, []int{http.StatusServiceUnavailable}, []string{""})

	s := NewSession(client)
	err := s.Put("k", "v")
	assert.Equal(t, kverrors.ErrCodeServiceUnavailable, kverrors.GetCode(err))
	assert.Equal(t, SessionStateClosed, s.State())

	err = s.Put("k", "v")
	assert.Equal(t, kverrors.ErrCodeConnectionLost, kverrors.GetCode(err))
}

func TestSessionConnectionLost(t *testing.T) {
	client, server := net.Pipe()
	server.Close()

	s := NewSession(client)
	_, err := s.Get("k")
	assert.Equal(t, kverrors.ErrCodeConnectionLost, kverrors.GetCode(err))
	assert.Equal(t, SessionStateClosed, s.State())
	assert.NoError(t, s.Close())
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status int
		want   kverrors.ErrorCode
	}{
		{http.StatusBadRequest, kverrors.ErrCodeInvalidPath},
		{http.StatusUnauthorized, kverrors.ErrCodeAuthFailed},
		{http.StatusNotFound, kverrors.ErrCodeNotFound},
		{http.StatusInternalServerError, kverrors.ErrCodeStoreFault},
		{http.StatusServiceUnavailable, kverrors.ErrCodeServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kverrors.GetCode(statusError(tt.status, "k")), "status %d", tt.status)
	}
	assert.NoError(t, statusError(http.StatusOK, "k"))
}

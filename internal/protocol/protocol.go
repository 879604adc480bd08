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
Package protocol implements the kvdb wire protocol.

Protocol Overview:
==================

kvdb speaks a small subset of HTTP/1.1 over a persistent TCP connection.
A client may send any number of requests on one connection; each request
receives exactly one response, in order.

Request Format:
===============

	METHOD /NAMESPACE/KEY HTTP/1.1\r\n
	Authorization: <secret>\r\n        (private namespace only)
	Content-Length: <n>\r\n            (PUT only)
	\r\n
	<body>

	- METHOD: GET, PUT or DELETE
	- NAMESPACE: public or private
	- KEY: non-empty and percent-decoded; may itself contain '/' or '?'

Only Content-Length framing is accepted. The Authorization value is taken
verbatim after the colon and one optional space.

Response Format:
================

	HTTP/1.1 <code> <reason>\r\n
	Content-Length: <n>\r\n
	\r\n
	<body>

The Content-Length header is always present. The body is empty except for a
successful GET, where it carries the value.

Status Codes:
=============

	- 200: OK
	- 400: Bad Request (bad path or unknown method)
	- 401: Unauthorized (missing or wrong private credential)
	- 404: Not Found (GET or DELETE on an absent key)
	- 500: Internal Server Error (store fault)
	- 503: Service Unavailable (connection limit reached)
*/
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	kverrors "kvdb/internal/errors"
)

// Protocol constants.
const (
	// Maximum request or response body (16 MB)
	MaxBodySize = 16 * 1024 * 1024

	// MaxHeaderBytes bounds the request line plus headers.
	MaxHeaderBytes = http.DefaultMaxHeaderBytes

	// HeaderAuthorization carries the private-namespace credential.
	HeaderAuthorization = "Authorization"
)

// Method names understood by the server.
const (
	MethodGet    = http.MethodGet
	MethodPut    = http.MethodPut
	MethodDelete = http.MethodDelete
)

// Namespace is one of the two disjoint key spaces.
type Namespace string

// Namespace constants.
const (
	Public  Namespace = "public"
	Private Namespace = "private"
)

// Valid reports whether ns names a known namespace.
func (ns Namespace) Valid() bool {
	return ns == Public || ns == Private
}

// Common errors, matched with errors.Is.
var (
	ErrMalformed    = kverrors.MalformedRequest(nil)
	ErrInvalidPath  = kverrors.InvalidPath("")
	ErrBodyTooLarge = errors.New("body exceeds maximum size")

	errHeaderTooLarge   = errors.New("request header exceeds maximum size")
	errTransferEncoding = errors.New("transfer codings are not supported")
)

// Request is one parsed client request.
type Request struct {
	Method string
	// Path is the request target exactly as sent.
	Path   string

	// Credential is the Authorization header value. HasCredential
	// distinguishes an absent header from an empty one.
	Credential    string
	HasCredential bool

	Body string
}

// Response is one parsed server response.
type Response struct {
	Status int
	Body   string
}

// ReadRequest reads the next request from r. It returns io.EOF when the
// stream ends cleanly before a request starts, and an error matching
// ErrMalformed for anything that cannot be parsed. The request target is
// not interpreted here; see ParsePath.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	budget := MaxHeaderBytes
	line, err := readLine(r, &budget)
	if err != nil {
		if err == io.EOF && line == "" {
			return nil, io.EOF
		}
		return nil, kverrors.MalformedRequest(unexpected(err))
	}

	req, err := parseRequestLine(line)
	if err != nil {
		return nil, kverrors.MalformedRequest(err)
	}

	header, err := readHeader(r, &budget, req)
	if err != nil {
		return nil, kverrors.MalformedRequest(err)
	}

	n, err := contentLength(header)
	if err != nil {
		return nil, kverrors.MalformedRequest(err)
	}
	if req.Body, err = readBody(r, n); err != nil {
		return nil, kverrors.MalformedRequest(err)
	}
	return req, nil
}

// parseRequestLine splits "METHOD target HTTP/x.y".
func parseRequestLine(line string) (*Request, error) {
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || target == "" || !httpguts.ValidHeaderFieldName(method) {
		return nil, fmt.Errorf("malformed request line %q", line)
	}
	if _, _, ok := http.ParseHTTPVersion(proto); !ok {
		return nil, fmt.Errorf("malformed HTTP version %q", proto)
	}
	return &Request{Method: method, Path: target}, nil
}

// readHeader reads header lines up to the blank line. The first
// Authorization value is kept byte for byte, apart from the single space
// that conventionally follows the colon; every other value is trimmed.
func readHeader(r *bufio.Reader, budget *int, req *Request) (http.Header, error) {
	header := make(http.Header)
	for {
		line, err := readLine(r, budget)
		if err != nil {
			return nil, unexpected(err)
		}
		if line == "" {
			return header, nil
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok || !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		key := textproto.CanonicalMIMEHeaderKey(name)
		if key == HeaderAuthorization && !req.HasCredential {
			req.Credential = strings.TrimPrefix(value, " ")
			req.HasCredential = true
		}
		header.Add(key, strings.TrimSpace(value))
	}
}

// contentLength returns the declared body length. Repeated headers must
// agree; transfer codings are not accepted.
func contentLength(header http.Header) (int, error) {
	if len(header.Values("Transfer-Encoding")) > 0 {
		return 0, errTransferEncoding
	}
	vals := header.Values("Content-Length")
	if len(vals) == 0 {
		return 0, nil
	}
	for _, v := range vals[1:] {
		if v != vals[0] {
			return 0, fmt.Errorf("conflicting Content-Length values %q", vals)
		}
	}
	v := vals[0]
	if v == "" || strings.TrimLeft(v, "0123456789") != "" {
		return 0, fmt.Errorf("invalid Content-Length %q", v)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n > MaxBodySize {
		return 0, ErrBodyTooLarge
	}
	return int(n), nil
}

// readLine reads one line without its CRLF, charging its length to budget.
// A partial line at end of stream is returned with io.EOF.
func readLine(r *bufio.Reader, budget *int) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		*budget -= len(chunk)
		if *budget < 0 {
			return "", errHeaderTooLarge
		}
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return string(line), err
		}
		break
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

func readBody(r io.Reader, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", unexpected(err)
	}
	return string(buf), nil
}

// unexpected reports a stream that ended inside a request.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Write writes r in wire format. Content-Length is sent for PUT and for any
// request with a body.
func (r *Request) Write(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte(' ')
	sb.WriteString(r.Path)
	sb.WriteString(" HTTP/1.1\r\n")
	if r.HasCredential {
		sb.WriteString(HeaderAuthorization)
		sb.WriteString(": ")
		sb.WriteString(r.Credential)
		sb.WriteString("\r\n")
	}
	if r.Method == MethodPut || r.Body != "" {
		sb.WriteString("Content-Length: ")
		sb.WriteString(strconv.Itoa(len(r.Body)))
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	sb.WriteString(r.Body)

	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteResponse writes a response with the given status and body.
func WriteResponse(w io.Writer, status int, body string) error {
	msg := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
	_, err := io.WriteString(w, msg)
	return err
}

// ReadResponse reads one response from r.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: body}, nil
}

// ParsePath splits a request target into its namespace and key. The
// target must be in origin form; it is percent-decoded as a whole, and
// everything after the second '/' of the decoded path is the key, including
// any '/', '?' or '#'. The key must be non-empty.
func ParsePath(target string) (Namespace, string, error) {
	if !strings.HasPrefix(target, "/") {
		return "", "", kverrors.InvalidPath(target)
	}
	path, err := url.PathUnescape(target)
	if err != nil {
		return "", "", kverrors.InvalidPath(target).WithCause(err)
	}
	parts := strings.SplitN(path, "/", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", "", kverrors.InvalidPath(target)
	}
	ns := Namespace(parts[1])
	if !ns.Valid() {
		return "", "", kverrors.InvalidPath(target)
	}
	return ns, parts[2], nil
}

// BuildPath returns the request target for key in ns, escaping the key so
// that the server decodes it back to the same bytes.
func BuildPath(ns Namespace, key string) string {
	return "/" + string(ns) + "/" + url.PathEscape(key)
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBodySize+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxBodySize {
		return "", ErrBodyTooLarge
	}
	return string(data), nil
}

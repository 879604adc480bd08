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

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	kverrors "kvdb/internal/errors"
	"kvdb/internal/protocol"
)

// client is the part of *sdk.Session the shell drives.
type client interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
	SetNamespace(ns protocol.Namespace)
	Namespace() protocol.Namespace
	SetCredential(secret string)
	ClearCredential()
}

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// command is one parsed shell line.
type command struct {
	name  string
	key   string
	value string
}

// commands lists every command for completion and help.
var commands = []struct {
	name  string
	usage string
	help  string
}{
	{"get", "get <key>", "print the value stored under key"},
	{"put", "put <key> <value>", "store value under key; the value runs to the end of the line"},
	{"del", "del <key>", "remove key"},
	{"auth", "auth [secret]", "set the private namespace credential; prompts when omitted"},
	{"noauth", "noauth", "stop sending a credential"},
	{"ns", "ns public|private", "switch namespace"},
	{"help", "help", "show this help"},
	{"quit", "quit", "close the connection and exit"},
}

// parseCommand splits a line into a command. The value of put keeps its
// inner spacing.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	name, rest, _ := strings.Cut(line, " ")
	cmd := command{name: strings.ToLower(name)}
	rest = strings.TrimLeft(rest, " ")

	switch cmd.name {
	case "get", "del":
		if rest == "" || strings.Contains(rest, " ") {
			return cmd, fmt.Errorf("usage: %s <key>", cmd.name)
		}
		cmd.key = rest
	case "put":
		key, value, ok := strings.Cut(rest, " ")
		if key == "" || !ok {
			return cmd, errors.New("usage: put <key> <value>")
		}
		cmd.key, cmd.value = key, value
	case "auth":
		cmd.value = rest
	case "ns":
		if !protocol.Namespace(rest).Valid() {
			return cmd, errors.New("usage: ns public|private")
		}
		cmd.value = rest
	case "noauth", "help", "quit", "exit":
		if rest != "" {
			return cmd, fmt.Errorf("usage: %s", cmd.name)
		}
	case "":
	default:
		return cmd, fmt.Errorf("unknown command %q (try help)", name)
	}
	return cmd, nil
}

// shell executes commands against one session.
type shell struct {
	client     client
	out        io.Writer
	readSecret func(prompt string) (string, error)
}

// prompt returns the prompt for the current namespace.
func (sh *shell) prompt() string {
	return fmt.Sprintf("kvdb:%s> ", sh.client.Namespace())
}

// exec runs one line. It returns errQuit when the shell should exit and a
// ConnectionLost error when the session is gone; other failures are
// printed and nil is returned.
func (sh *shell) exec(line string) error {
	cmd, err := parseCommand(line)
	if err != nil {
		fmt.Fprintln(sh.out, err)
		return nil
	}

	switch cmd.name {
	case "":
		return nil
	case "get":
		value, err := sh.client.Get(cmd.key)
		if err != nil {
			return sh.report(err)
		}
		fmt.Fprintln(sh.out, value)
	case "put":
		if err := sh.client.Put(cmd.key, cmd.value); err != nil {
			return sh.report(err)
		}
		fmt.Fprintln(sh.out, "OK")
	case "del":
		if err := sh.client.Delete(cmd.key); err != nil {
			return sh.report(err)
		}
		fmt.Fprintln(sh.out, "OK")
	case "auth":
		secret := cmd.value
		if secret == "" && sh.readSecret != nil {
			secret, err = sh.readSecret("Secret: ")
			if err != nil {
				fmt.Fprintf(sh.out, "unable to read secret: %v\n", err)
				return nil
			}
		}
		sh.client.SetCredential(secret)
	case "noauth":
		sh.client.ClearCredential()
	case "ns":
		sh.client.SetNamespace(protocol.Namespace(cmd.value))
	case "help":
		for _, c := range commands {
			fmt.Fprintf(sh.out, "  %-20s %s\n", c.usage, c.help)
		}
	case "quit", "exit":
		return errQuit
	}
	return nil
}

// report prints a request failure. Connection loss is returned so the
// caller can stop.
func (sh *shell) report(err error) error {
	switch kverrors.GetCode(err) {
	case kverrors.ErrCodeNotFound:
		fmt.Fprintln(sh.out, "(not found)")
	case kverrors.ErrCodeAuthFailed:
		fmt.Fprintln(sh.out, "(unauthorized: use auth to set the secret)")
	case kverrors.ErrCodeInvalidPath:
		fmt.Fprintln(sh.out, "(bad request)")
	case kverrors.ErrCodeServiceUnavailable:
		fmt.Fprintln(sh.out, "(server busy)")
		return err
	case kverrors.ErrCodeConnectionLost:
		fmt.Fprintln(sh.out, "(connection lost)")
		return err
	default:
		fmt.Fprintf(sh.out, "(error: %v)\n", err)
	}
	return nil
}

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
dbshell is an interactive client for a kvdb server. It keeps one connection
open for the whole session.

Usage:

	dbshell [--host <host>] portnum
	dbshell --discover [--timeout <seconds>]

Commands:

	get <key>            print the value stored under key
	put <key> <value>    store value under key
	del <key>            remove key
	auth [secret]        set the private namespace credential
	noauth               stop sending a credential
	ns public|private    switch namespace
	help                 list commands
	quit                 exit
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"kvdb/internal/banner"
	"kvdb/internal/discovery"
	"kvdb/internal/logging"
	"kvdb/internal/sdk"
)

func main() {
	fs := pflag.NewFlagSet("dbshell", pflag.ExitOnError)
	host := fs.StringP("host", "H", "localhost", "server host")
	discover := fs.Bool("discover", false, "find a server over mDNS instead of naming a port")
	timeout := fs.Int("timeout", 2, "discovery timeout in seconds")
	showVersion := fs.BoolP("version", "v", false, "show version information")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: dbshell [--host host] portnum | dbshell --discover")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("dbshell version %s\n", banner.Version)
		return
	}
	logging.SetGlobalLevel(logging.WARN)

	addr, err := resolveAddr(*host, fs.Args(), *discover, time.Duration(*timeout)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbshell: %v\n", err)
		os.Exit(1)
	}

	session, err := sdk.Dial(context.Background(), addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbshell: unable to connect to %s\n", addr)
		os.Exit(2)
	}
	defer session.Close()

	in := bufio.NewReader(os.Stdin)
	sh := &shell{
		client:     session,
		out:        os.Stdout,
		readSecret: func(prompt string) (string, error) { return readSecret(in, prompt) },
	}

	if isTerminal() {
		banner.Print(os.Stdout, "kvdb shell")
		fmt.Printf("Connected to %s. Type help for commands.\n\n", addr)
		err = runInteractive(sh)
	} else {
		err = runPiped(sh, in)
	}
	if err != nil {
		os.Exit(3)
	}
}

// resolveAddr returns the server address from the positional port or, with
// discover set, the first server found on the network.
func resolveAddr(host string, args []string, discover bool, timeout time.Duration) (string, error) {
	if discover {
		if len(args) != 0 {
			return "", errors.New("--discover takes no portnum")
		}
		// The mDNS library logs non-critical IPv6 errors through the standard logger.
		stdlog.SetOutput(io.Discard)
		servers, err := discovery.Lookup(context.Background(), timeout)
		if err != nil {
			return "", err
		}
		if len(servers) == 0 {
			return "", errors.New("no kvdb servers found on the network")
		}
		return servers[0].Addr, nil
	}
	if len(args) != 1 {
		return "", errors.New("expected exactly one portnum")
	}
	return net.JoinHostPort(host, args[0]), nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kvdb_history")
}

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		if c.name == "ns" {
			items = append(items, readline.PcItem("ns",
				readline.PcItem("public"),
				readline.PcItem("private"),
			))
			continue
		}
		items = append(items, readline.PcItem(c.name))
	}
	return readline.NewPrefixCompleter(items...)
}

func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}

// runInteractive drives the shell with line editing and history.
func runInteractive(sh *shell) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:              sh.prompt(),
		HistoryFile:         historyFile(),
		AutoComplete:        completer(),
		InterruptPrompt:     "^C",
		EOFPrompt:           "quit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		rl.SetPrompt(sh.prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			fmt.Println("(Use quit or Ctrl+D to exit)")
			continue
		}
		if err != nil {
			return nil
		}
		if err := sh.exec(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

// runPiped reads commands from in without prompting.
func runPiped(sh *shell, in *bufio.Reader) error {
	for {
		line, err := in.ReadString('\n')
		if line != "" {
			if execErr := sh.exec(strings.TrimRight(line, "\r\n")); execErr != nil {
				if errors.Is(execErr, errQuit) {
					return nil
				}
				return execErr
			}
		}
		if err != nil {
			return nil
		}
	}
}

// readSecret reads a secret without echo when stdin is a terminal.
func readSecret(in *bufio.Reader, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print(prompt)
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		return string(secret), err
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

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
dbdiscover finds kvdb servers on the local network using mDNS.

Usage:

	dbdiscover                  # Discover servers (2 second timeout)
	dbdiscover --timeout 5      # Custom timeout in seconds
	dbdiscover --json           # Output as JSON
	dbdiscover --quiet          # Only output addresses (for scripting)
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"kvdb/internal/banner"
	"kvdb/internal/discovery"
)

func main() {
	fs := pflag.NewFlagSet("dbdiscover", pflag.ExitOnError)
	timeout := fs.IntP("timeout", "t", 2, "discovery timeout in seconds")
	jsonOutput := fs.Bool("json", false, "output as JSON")
	quiet := fs.BoolP("quiet", "q", false, "only output server addresses")
	showVersion := fs.BoolP("version", "v", false, "show version information")
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("dbdiscover version %s\n", banner.Version)
		fmt.Println(banner.Copyright)
		return
	}

	// The mDNS library logs non-critical IPv6 errors through the standard logger.
	stdlog.SetOutput(io.Discard)

	human := !*quiet && !*jsonOutput
	if human {
		banner.Print(os.Stdout, "kvdb discover")
		fmt.Printf("Scanning for kvdb servers (timeout: %ds)...\n\n", *timeout)
	}

	servers, err := discovery.Lookup(context.Background(), time.Duration(*timeout)*time.Second)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "dbdiscover: %v\n", err)
		}
		os.Exit(1)
	}

	switch {
	case *jsonOutput:
		err = writeJSON(os.Stdout, servers)
	case *quiet:
		writeQuiet(os.Stdout, servers)
	default:
		writeHuman(os.Stdout, servers)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbdiscover: %v\n", err)
		os.Exit(1)
	}
}

type serverOutput struct {
	Instance string `json:"instance"`
	Addr     string `json:"addr"`
	Version  string `json:"version,omitempty"`
	Private  bool   `json:"private"`
}

func writeJSON(w io.Writer, servers []*discovery.Server) error {
	out := make([]serverOutput, len(servers))
	for i, s := range servers {
		out[i] = serverOutput{
			Instance: s.Instance,
			Addr:     s.Addr,
			Version:  s.Version,
			Private:  s.Private,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeQuiet(w io.Writer, servers []*discovery.Server) {
	if len(servers) == 0 {
		return
	}
	addrs := make([]string, len(servers))
	for i, s := range servers {
		addrs[i] = s.Addr
	}
	fmt.Fprintln(w, strings.Join(addrs, ","))
}

func writeHuman(w io.Writer, servers []*discovery.Server) {
	if len(servers) == 0 {
		fmt.Fprintln(w, "No kvdb servers found on the network.")
		fmt.Fprintln(w, "Servers must be started with --advertise, and UDP port 5353 must not be blocked.")
		return
	}

	fmt.Fprintf(w, "Found %d kvdb server(s)\n\n", len(servers))
	for i, s := range servers {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, s.Instance)
		fmt.Fprintf(w, "      Address: %s\n", s.Addr)
		if s.Version != "" {
			fmt.Fprintf(w, "      Version: %s\n", s.Version)
		}
		fmt.Fprintln(w)
	}
}

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
dbclient performs one operation against the public namespace of a kvdb
server on localhost.

Usage:

	dbclient portnum key [value]

With a value the key is written, otherwise it is read and its value printed.
portnum may be a number or a service name.

Exit statuses:

	1  invalid command line or key
	2  the server could not be reached
	3  GET failed
	4  PUT failed
*/
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"kvdb/internal/sdk"
)

const (
	exitUsage   = 1
	exitConnect = 2
	exitGet     = 3
	exitPut     = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || len(args) > 3 {
		fmt.Fprintln(stderr, "Usage: dbclient portnum key [value]")
		return exitUsage
	}
	port, key := args[0], args[1]
	if strings.ContainsAny(key, " \n") {
		fmt.Fprintln(stderr, "dbclient: key must not contain spaces or newlines")
		return exitUsage
	}

	session, err := sdk.Dial(context.Background(), net.JoinHostPort("localhost", port))
	if err != nil {
		fmt.Fprintf(stderr, "dbclient: unable to connect to port %s\n", port)
		return exitConnect
	}
	defer session.Close()

	if len(args) == 3 {
		if err := session.Put(key, args[2]); err != nil {
			return exitPut
		}
		return 0
	}

	value, err := session.Get(key)
	if err != nil {
		return exitGet
	}
	fmt.Fprintln(stdout, value)
	return 0
}

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
Package banner prints the startup banner for the kvdb binaries.

ANSI Color Codes:
=================

Colors are written only when the destination is a terminal, so redirected
output stays plain text.

	- 31: Red foreground
	- 32: Green foreground
	- 36: Cyan foreground
	- 1:  Bold text
	- 2:  Dim text
*/
package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"kvdb/internal/config"
)

// ANSI escape codes for terminal text formatting.
const (
	AnsiRed   = "\033[31m"
	AnsiGreen = "\033[32m"
	AnsiCyan  = "\033[36m"
	AnsiReset = "\033[0m"
	AnsiBold  = "\033[1m"
	AnsiDim   = "\033[2m"
)

// Version information for kvdb.
const (
	Version   = "1.0.0"
	Copyright = "(c)2026 Firefly Software Solutions Inc"
	License   = "Licensed under Apache 2.0"
)

// palette holds the escape codes used for one writer.
type palette struct {
	red, green, cyan, bold, dim, reset string
}

// paletteFor returns ANSI codes when w is a terminal and empty strings
// otherwise.
func paletteFor(w io.Writer) palette {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return palette{AnsiRed, AnsiGreen, AnsiCyan, AnsiBold, AnsiDim, AnsiReset}
	}
	return palette{}
}

// Print writes the title line for program followed by copyright and
// license.
func Print(w io.Writer, program string) {
	p := paletteFor(w)
	fmt.Fprintf(w, "%s%s:: %s ::%s %s(v%s)%s\n", p.red, p.bold, program, p.reset, p.dim, Version, p.reset)
	fmt.Fprintln(w, p.green+Copyright+p.reset)
	fmt.Fprintln(w, p.green+License+p.reset)
	fmt.Fprintln(w)
}

// PrintServerConfig writes the server banner and a compact view of cfg.
// The secret is never printed.
func PrintServerConfig(w io.Writer, cfg *config.Config) {
	Print(w, "kvdb server")
	p := paletteFor(w)

	limit := "unlimited"
	if cfg.ConnectionLimit > 0 {
		limit = fmt.Sprintf("%d", cfg.ConnectionLimit)
	}
	port := "ephemeral"
	if cfg.Port != 0 {
		port = fmt.Sprintf("%d", cfg.Port)
	}

	rows := [][2]string{
		{"Auth file", cfg.AuthFile},
		{"Connections", limit},
		{"Port", port},
		{"Log level", strings.ToLower(cfg.LogLevel)},
	}
	if cfg.MetricsAddr != "" {
		rows = append(rows, [2]string{"Metrics", cfg.MetricsAddr})
	}
	if cfg.Advertise {
		rows = append(rows, [2]string{"mDNS", "advertising"})
	}
	if cfg.ConfigFile != "" {
		rows = append(rows, [2]string{"Config file", cfg.ConfigFile})
	}

	fmt.Fprintf(w, "  %s%sCONFIGURATION%s\n", p.bold, p.cyan, p.reset)
	for _, row := range rows {
		fmt.Fprintf(w, "    %s%-12s%s %s\n", p.dim, row[0]+":", p.reset, row[1])
	}
	fmt.Fprintln(w)
}

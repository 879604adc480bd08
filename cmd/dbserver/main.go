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
Package main is the entry point for the kvdb server.

Usage:

	dbserver [options] authfile connections [portnum]

The first line of authfile is the secret guarding the private namespace.
connections bounds the number of concurrent client sessions (0 means no
limit). portnum selects the listening port; it defaults to 0, in which case
the kernel picks one. The bound port is printed to standard error, and
SIGHUP writes a statistics report there.

Options:

	--config <path>        Configuration file (TOML subset)
	--log-level <level>    debug, info, warn or error
	--log-json             JSON log lines
	--metrics-addr <addr>  Serve Prometheus metrics and health checks
	--advertise            Publish the server over mDNS
	--instance <name>      mDNS instance name

Exit statuses:

	1  invalid command line
	2  the authentication file could not be read
	3  the listening socket could not be opened
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"kvdb/internal/banner"
	"kvdb/internal/config"
	kverrors "kvdb/internal/errors"
	"kvdb/internal/logging"
	"kvdb/internal/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run starts the server and returns the process exit status.
func run(args []string) int {
	cfg, err := config.NewManager().ParseArgs(args)
	if err != nil {
		return fatal(err)
	}

	secret, err := config.ReadAuthSecret(cfg.AuthFile)
	if err != nil {
		return fatal(err)
	}
	cfg.AuthSecret = secret

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	defer logging.Sync()
	log := logging.NewLogger("main")

	if term.IsTerminal(int(os.Stdout.Fd())) {
		banner.PrintServerConfig(os.Stdout, cfg)
	}
	if cfg.ConfigFile != "" {
		log.Info("Configuration loaded", "file", cfg.ConfigFile)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, unix.SIGHUP)
	defer signal.Stop(hup)

	srv := server.New(server.Options{
		Port:            cfg.Port,
		ConnectionLimit: cfg.ConnectionLimit,
		Secret:          cfg.AuthSecret,
		Diag:            os.Stderr,
		ReportTrigger:   hup,
		MetricsAddr:     cfg.MetricsAddr,
		Advertise:       cfg.Advertise,
		Instance:        cfg.InstanceName,
	})
	if err := srv.Listen(); err != nil {
		return fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("kvdb server starting",
		"version", banner.Version,
		"port", srv.Port(),
		"connections", cfg.ConnectionLimit,
	)
	if err := srv.Run(ctx); err != nil {
		log.Error("Server error", "error", err)
		return 1
	}
	log.Info("Server stopped")
	return 0
}

// fatal prints the fixed message for err and returns its exit status.
func fatal(err error) int {
	if kvErr, ok := kverrors.As(err); ok {
		fmt.Fprintln(os.Stderr, kvErr.FatalMessage())
		return kvErr.ExitCode()
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

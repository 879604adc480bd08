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
Package discovery advertises kvdb servers over mDNS/DNS-SD and finds them.

SERVICE TYPE:
=============
kvdb advertises itself as: _kvdb._tcp.local.

Each server publishes:
- Instance name: <instance>._kvdb._tcp.local.
- Port: the bound listening port
- TXT records: version, private (whether a private namespace is served)

USAGE:
======
	adv, err := discovery.Advertise(discovery.Config{Instance: "lab", Port: 4000})
	defer adv.Shutdown()

	servers, err := discovery.Lookup(ctx, 2*time.Second)
*/
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"kvdb/internal/logging"
)

const (
	// ServiceType is the mDNS service type for kvdb.
	ServiceType = "_kvdb._tcp"

	// DefaultLookupTimeout is the default timeout for Lookup.
	DefaultLookupTimeout = 2 * time.Second
)

var log = logging.NewLogger("discovery")

// Config describes what a server advertises.
type Config struct {
	Instance string
	Port     int
	Version  string
	// IPs to advertise; empty means every non-loopback IPv4 address.
	IPs []net.IP
}

// Server is a discovered kvdb server.
type Server struct {
	Instance     string
	Addr         string
	Version      string
	Private      bool
	DiscoveredAt time.Time
}

// Advertiser publishes one server instance until shut down.
type Advertiser struct {
	server *mdns.Server
	cfg    Config
}

// DefaultInstance returns an instance name derived from the host name.
func DefaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "kvdb"
	}
	return "kvdb-" + strings.SplitN(host, ".", 2)[0]
}

// TXTRecords returns the TXT records published for cfg.
func TXTRecords(cfg Config) []string {
	return []string{
		fmt.Sprintf("version=%s", cfg.Version),
		"private=true",
	}
}

// Advertise starts answering mDNS queries for cfg.
func Advertise(cfg Config) (*Advertiser, error) {
	if cfg.Instance == "" {
		cfg.Instance = DefaultInstance()
	}
	ips := cfg.IPs
	if len(ips) == 0 {
		ips = localIPs()
	}

	service, err := mdns.NewMDNSService(
		cfg.Instance,    // Instance name
		ServiceType,     // Service type
		"",              // Domain (empty = .local)
		"",              // Host name (empty = auto)
		cfg.Port,        // Port
		ips,             // IPs to advertise
		TXTRecords(cfg), // TXT records
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS server: %w", err)
	}

	log.Info("Advertising service", "instance", cfg.Instance, "port", cfg.Port, "service_type", ServiceType)
	return &Advertiser{server: server, cfg: cfg}, nil
}

// Shutdown stops advertising.
func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	err := a.server.Shutdown()
	a.server = nil
	log.Info("Stopped advertising", "instance", a.cfg.Instance)
	return err
}

// Lookup queries the local network for kvdb servers. It returns when the
// timeout elapses or ctx is done, whichever is first.
func Lookup(ctx context.Context, timeout time.Duration) ([]*Server, error) {
	if timeout == 0 {
		timeout = DefaultLookupTimeout
	}

	entriesCh := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan []*Server, 1)

	go func() {
		var servers []*Server
		for entry := range entriesCh {
			if s := parseServiceEntry(entry); s != nil {
				servers = append(servers, s)
			}
		}
		collected <- servers
	}()

	params := &mdns.QueryParam{
		Service:             ServiceType,
		Domain:              "local",
		Timeout:             timeout,
		Entries:             entriesCh,
		WantUnicastResponse: true,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
		close(entriesCh)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		servers := <-collected
		if err != nil {
			return nil, fmt.Errorf("mDNS query failed: %w", err)
		}
		return servers, nil
	}
}

// parseServiceEntry converts an mDNS entry into a Server.
func parseServiceEntry(entry *mdns.ServiceEntry) *Server {
	if entry == nil {
		return nil
	}

	var ip string
	if entry.AddrV4 != nil {
		ip = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		ip = entry.AddrV6.String()
	}
	if ip == "" {
		return nil
	}

	s := &Server{
		Instance:     instanceName(entry.Name),
		Addr:         net.JoinHostPort(ip, strconv.Itoa(entry.Port)),
		DiscoveredAt: time.Now(),
	}

	for _, txt := range entry.InfoFields {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			s.Version = value
		case "private":
			s.Private = value == "true"
		}
	}
	return s
}

// instanceName strips the service suffix from a fully qualified name.
func instanceName(name string) string {
	if i := strings.Index(name, "."+ServiceType); i > 0 {
		return strings.ReplaceAll(name[:i], `\ `, " ")
	}
	return name
}

// localIPs returns all non-loopback IPv4 addresses.
func localIPs() []net.IP {
	var ips []net.IP

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if ipnet.IP.IsLoopback() {
				continue
			}
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	return ips
}

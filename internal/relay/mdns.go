package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// mDNS service parameters.
const (
	ServiceType   = "_boardsync._tcp"
	ServiceDomain = "local."
)

// Advertise announces a relay listening on port over mDNS so participants
// on the LAN can find it with Discover. Call the returned function to
// withdraw the announcement.
func Advertise(instance string, port int, logger *slog.Logger) (func(), error) {
	txt := []string{"path=/boards", "version=1"}
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	if logger != nil {
		logger.Info("advertising relay", "instance", instance, "service", ServiceType, "port", port)
	}
	return server.Shutdown, nil
}

// Discovered is a relay found on the LAN.
type Discovered struct {
	Instance string
	Host     string
	Port     int
	Addrs    []string
	Text     []string
}

// URL returns the relay's base http URL, preferring an IPv4 address.
func (d Discovered) URL() string {
	host := strings.TrimSuffix(d.Host, ".")
	if len(d.Addrs) > 0 {
		host = d.Addrs[0]
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(d.Port))
}

// Discover browses for relays until ctx is done and returns what it found,
// ordered by instance name.
func Discover(ctx context.Context) ([]Discovered, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		mu    sync.Mutex
		found = make(map[string]Discovered)
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-entries:
				if !ok {
					return
				}
				d := Discovered{Instance: e.Instance, Host: e.HostName, Port: e.Port, Text: e.Text}
				for _, ip := range e.AddrIPv4 {
					d.Addrs = append(d.Addrs, ip.String())
				}
				for _, ip := range e.AddrIPv6 {
					d.Addrs = append(d.Addrs, ip.String())
				}
				mu.Lock()
				found[e.Instance] = d
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	out := make([]Discovered, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Discovered) int { return strings.Compare(a.Instance, b.Instance) })
	return out, nil
}

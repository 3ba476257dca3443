// Package resolver does the client-side hostname lookup the CLI needs
// before dialing: CLI flags take a "host:port" string, and the adapter
// layer below only ever deals in IPv4 addresses.
package resolver

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Resolver is a minimal DNS-over-UDP A-record client.
type Resolver struct {
	server  string
	client  *dns.Client
}

// New creates a Resolver that queries server (host:port, default port 53
// if omitted).
func New(server string) *Resolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Timeout: 5 * time.Second},
	}
}

// ResolveA returns the first A record for host, or host itself unchanged
// if it already parses as an IPv4 address.
func (r *Resolver) ResolveA(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("resolver: %s is not an IPv4 address", host)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	reply, _, err := r.client.Exchange(m, r.server)
	if err != nil {
		return nil, fmt.Errorf("resolver: query %s: %w", host, err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("resolver: %s: rcode %s", host, dns.RcodeToString[reply.Rcode])
	}
	for _, ans := range reply.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.To4(), nil
		}
	}
	return nil, fmt.Errorf("resolver: no A record for %s", host)
}

// ResolveHostPort splits "host:port", resolves host via ResolveA, and
// returns the resulting IPv4 address and numeric port.
func ResolveHostPort(r *Resolver, hostport string) (net.IP, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, 0, fmt.Errorf("resolver: %s: %w", hostport, err)
	}
	ip, err := r.ResolveA(host)
	if err != nil {
		return nil, 0, err
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return nil, 0, fmt.Errorf("resolver: bad port %q: %w", portStr, err)
	}
	return ip, uint16(port), nil
}

package guard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

// Rejection reasons, also used as metric labels
const (
	ReasonScheme      = "scheme"
	ReasonHostname    = "hostname"
	ReasonMetadata    = "metadata"
	ReasonLoopback    = "loopback"
	ReasonPrivate     = "private"
	ReasonLinkLocal   = "link-local"
	ReasonUnspecified = "unspecified"
	ReasonThisNetwork = "this-network"
	ReasonShared      = "shared-address"
	ReasonMulticast   = "multicast"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata":                 {},
	"metadata.google.internal": {},
}

var metadataAddrs = map[netip.Addr]struct{}{
	netip.MustParseAddr("169.254.169.254"): {},
	netip.MustParseAddr("100.100.100.200"): {},
	netip.MustParseAddr("fd00:ec2::254"):   {},
}

var (
	thisNetwork = netip.MustParsePrefix("0.0.0.0/8")
	sharedSpace = netip.MustParsePrefix("100.64.0.0/10")
)

// Guard decides whether plugin traffic may reach a URL
type Guard struct {
	resolver Resolver
	allowed  map[string]struct{}
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// Option configures a Guard
type Option func(*Guard)

// WithResolver replaces the system resolver
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithAllowedHosts exempts exact hostnames or IP literals from the check
func WithAllowedHosts(hosts ...string) Option {
	return func(g *Guard) {
		for _, h := range hosts {
			if h = normalizeHost(h); h != "" {
				g.allowed[h] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics records rejections
func WithMetrics(m *monitoring.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New creates a guard backed by net.DefaultResolver
func New(opts ...Option) *Guard {
	g := &Guard{
		resolver: net.DefaultResolver,
		allowed:  make(map[string]struct{}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check validates a raw URL before a request is sent
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return g.reject(rawURL, ReasonScheme, fmt.Sprintf("malformed url: %v", err))
	}
	return g.CheckURL(ctx, u)
}

// CheckURL validates a parsed URL. A host whose DNS lookup fails is
// allowed; the dial-time check still applies to whatever it resolves to.
func (g *Guard) CheckURL(ctx context.Context, u *url.URL) error {
	host := normalizeHost(u.Hostname())

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return g.reject(host, ReasonScheme, fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}
	if host == "" {
		return g.reject(host, ReasonHostname, "url has no host")
	}
	if g.isAllowed(host) {
		return nil
	}
	if _, ok := blockedHostnames[host]; ok || strings.HasSuffix(host, ".localhost") {
		return g.reject(host, ReasonHostname, fmt.Sprintf("host %s is not reachable from plugins", host))
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return g.checkAddr(host, addr)
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		g.logger.Debug("DNS lookup failed, allowing request",
			zap.String("host", host),
			zap.Error(err))
		return nil
	}
	for _, addr := range addrs {
		if err := g.checkAddr(host, addr); err != nil {
			return err
		}
	}
	return nil
}

// CheckAddr validates one resolved address for host
func (g *Guard) CheckAddr(host string, addr netip.Addr) error {
	if g.isAllowed(normalizeHost(host)) {
		return nil
	}
	return g.checkAddr(host, addr)
}

func (g *Guard) checkAddr(host string, addr netip.Addr) error {
	if g.isAllowed(addr.Unmap().String()) {
		return nil
	}
	if reason, blocked := Classify(addr); blocked {
		return g.reject(host, reason, fmt.Sprintf("address %s of %s is %s", addr.Unmap(), host, reason))
	}
	return nil
}

func (g *Guard) isAllowed(host string) bool {
	_, ok := g.allowed[host]
	return ok
}

func (g *Guard) reject(host, reason, msg string) error {
	g.metrics.RecordSSRFBlocked(reason)
	g.logger.Warn("Blocked plugin request",
		zap.String("host", host),
		zap.String("reason", reason))
	return plugin.NetworkPolicyError(host, msg)
}

// Classify reports whether addr belongs to a range plugins may not reach
func Classify(addr netip.Addr) (reason string, blocked bool) {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid():
		return ReasonUnspecified, true
	case isMetadata(addr):
		return ReasonMetadata, true
	case addr.IsLoopback():
		return ReasonLoopback, true
	case addr.IsPrivate():
		return ReasonPrivate, true
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return ReasonLinkLocal, true
	case addr.IsUnspecified():
		return ReasonUnspecified, true
	case addr.Is4() && thisNetwork.Contains(addr):
		return ReasonThisNetwork, true
	case addr.Is4() && sharedSpace.Contains(addr):
		return ReasonShared, true
	case addr.IsMulticast():
		return ReasonMulticast, true
	}
	return "", false
}

func isMetadata(addr netip.Addr) bool {
	_, ok := metadataAddrs[addr]
	return ok
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return strings.TrimSuffix(h, ".")
}

// DialContext returns a dial function that resolves the target itself,
// vets every address and connects to a vetted one. This pins the
// connection to the checked IP so DNS rebinding cannot slip past Check.
func (g *Guard) DialContext(dialer *net.Dialer) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		host = normalizeHost(host)
		if g.isAllowed(host) {
			return dialer.DialContext(ctx, network, address)
		}

		var addrs []netip.Addr
		if addr, err := netip.ParseAddr(host); err == nil {
			addrs = []netip.Addr{addr}
		} else {
			addrs, err = g.resolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			}
		}

		var errs []error
		for _, addr := range addrs {
			if err := g.checkAddr(host, addr); err != nil {
				return nil, err
			}
		}
		for _, addr := range addrs {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(addr.Unmap().String(), port))
			if err == nil {
				return conn, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil, fmt.Errorf("no addresses for %s", host)
		}
		return nil, errors.Join(errs...)
	}
}

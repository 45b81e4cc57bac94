package threat

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/metrics"
)

const defaultDNSTimeout = 3 * time.Second

// urlHostPattern extracts the authority of an http(s) URL. The host is used
// verbatim, port included.
var urlHostPattern = regexp.MustCompile(`https?://([^/]+)`)

// reservedPrefixes are non-routable ranges not covered by the net.IP helpers
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("100::/64"),
}

// Resolver is the subset of *net.Resolver used for DNS enrichment
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// EnrichmentOptions wires the lookups of an EnrichmentEngine. Nil Geo disables
// geo and ASN lookups; nil Resolver uses net.DefaultResolver.
type EnrichmentOptions struct {
	Geo        GeoLookup
	Resolver   Resolver
	Cache      *LookupCache
	DNSTimeout time.Duration
	Breaker    core.CircuitBreakerConfig
}

// EnrichmentEngine adds geo, network and DNS context to new IOCs. Every lookup
// is best effort: a failure leaves its fields unset.
type EnrichmentEngine struct {
	geo        GeoLookup
	resolver   Resolver
	cache      *LookupCache
	breaker    *core.CircuitBreaker
	dnsTimeout time.Duration
	logger     *zap.SugaredLogger
}

// NewEnrichmentEngine creates an enrichment engine
func NewEnrichmentEngine(opts EnrichmentOptions, logger *zap.SugaredLogger) (*EnrichmentEngine, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.DNSTimeout <= 0 {
		opts.DNSTimeout = defaultDNSTimeout
	}
	if opts.Breaker == (core.CircuitBreakerConfig{}) {
		opts.Breaker = core.DefaultCircuitBreakerConfig()
	}

	breaker, err := core.NewCircuitBreaker(opts.Breaker)
	if err != nil {
		return nil, err
	}

	return &EnrichmentEngine{
		geo:        opts.Geo,
		resolver:   opts.Resolver,
		cache:      opts.Cache,
		breaker:    breaker,
		dnsTimeout: opts.DNSTimeout,
		logger:     logger,
	}, nil
}

// Enrich returns whatever context the lookups produce for indicator. Types
// other than ip, domain and url get nothing.
func (e *EnrichmentEngine) Enrich(ctx context.Context, indicator string, iocType core.IOCType) core.Enrichment {
	if ctx.Err() != nil {
		return core.Enrichment{}
	}

	switch iocType {
	case core.IOCTypeIP:
		return e.enrichIP(ctx, indicator)
	case core.IOCTypeDomain:
		return e.enrichDomain(ctx, indicator)
	case core.IOCTypeURL:
		host := ExtractURLHost(indicator)
		if host == "" {
			return core.Enrichment{}
		}
		return e.enrichDomain(ctx, host)
	default:
		return core.Enrichment{}
	}
}

func (e *EnrichmentEngine) enrichIP(ctx context.Context, value string) core.Enrichment {
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil || IsReservedIP(ip) {
		return core.Enrichment{}
	}

	key := "ip:" + ip.String()
	if cached, ok := e.cached(ctx, key); ok {
		return cached
	}

	var result core.Enrichment

	if e.geo != nil {
		if geo, err := e.geo.City(ip); err != nil {
			e.lookupFailed("geo", ip.String(), err)
		} else {
			metrics.EnrichmentLookups.WithLabelValues("geo", "ok").Inc()
			result.GeoCountry = geo.Country
			result.GeoCity = geo.City
			result.GeoLatitude = geo.Latitude
			result.GeoLongitude = geo.Longitude
		}

		if asn, err := e.geo.ASN(ip); err != nil {
			e.lookupFailed("asn", ip.String(), err)
		} else {
			metrics.EnrichmentLookups.WithLabelValues("asn", "ok").Inc()
			result.ASN = asn.ASN
			result.ASNOrg = asn.Org
		}
	}

	var names []string
	err := e.dns(ctx, func(dctx context.Context) error {
		var lerr error
		names, lerr = e.resolver.LookupAddr(dctx, ip.String())
		return lerr
	})
	if err != nil {
		e.lookupFailed("reverse_dns", ip.String(), err)
	} else if len(names) > 0 {
		metrics.EnrichmentLookups.WithLabelValues("reverse_dns", "ok").Inc()
		result.ReverseDNS = strings.TrimSuffix(names[0], ".")
	}

	e.store(ctx, key, result)
	return result
}

func (e *EnrichmentEngine) enrichDomain(ctx context.Context, host string) core.Enrichment {
	host = strings.TrimSpace(host)
	if host == "" {
		return core.Enrichment{}
	}

	key := "domain:" + host
	if cached, ok := e.cached(ctx, key); ok {
		return cached
	}

	var addrs []net.IPAddr
	err := e.dns(ctx, func(dctx context.Context) error {
		var lerr error
		addrs, lerr = e.resolver.LookupIPAddr(dctx, host)
		return lerr
	})
	if err != nil {
		e.lookupFailed("resolve", host, err)
		e.store(ctx, key, core.Enrichment{})
		return core.Enrichment{}
	}

	resolved := pickAddress(addrs)
	if resolved == nil {
		e.store(ctx, key, core.Enrichment{})
		return core.Enrichment{}
	}
	metrics.EnrichmentLookups.WithLabelValues("resolve", "ok").Inc()

	result := core.Enrichment{ResolvedIP: resolved.String()}
	result = result.Merge(e.enrichIP(ctx, resolved.String()))

	e.store(ctx, key, result)
	return result
}

// dns runs fn under the DNS timeout and circuit breaker. Not-found answers
// do not count as resolver failures.
func (e *EnrichmentEngine) dns(ctx context.Context, fn func(context.Context) error) error {
	return e.breaker.Execute(func() error {
		dctx, cancel := context.WithTimeout(ctx, e.dnsTimeout)
		defer cancel()
		return fn(dctx)
	}, isResolverFailure)
}

func isResolverFailure(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}
	return true
}

func (e *EnrichmentEngine) lookupFailed(lookup, indicator string, err error) {
	if errors.Is(err, ErrLookupDisabled) {
		return
	}
	if errors.Is(err, core.ErrCircuitBreakerOpen) || errors.Is(err, core.ErrTooManyRequests) {
		metrics.EnrichmentLookups.WithLabelValues(lookup, "skipped").Inc()
		return
	}
	metrics.EnrichmentLookups.WithLabelValues(lookup, "error").Inc()
	e.logger.Debugw("Enrichment lookup failed",
		"error", &core.EnrichmentLookupError{Lookup: lookup, Indicator: indicator, Err: err})
}

func (e *EnrichmentEngine) cached(ctx context.Context, key string) (core.Enrichment, bool) {
	if e.cache == nil {
		return core.Enrichment{}, false
	}
	return e.cache.Get(ctx, key)
}

func (e *EnrichmentEngine) store(ctx context.Context, key string, value core.Enrichment) {
	if e.cache == nil || ctx.Err() != nil {
		return
	}
	e.cache.Set(ctx, key, value)
}

// BreakerState reports the DNS circuit breaker state
func (e *EnrichmentEngine) BreakerState() core.CircuitBreakerState {
	return e.breaker.State()
}

// pickAddress prefers the first IPv4 address
func pickAddress(addrs []net.IPAddr) net.IP {
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP
	}
	return nil
}

// ExtractURLHost returns the authority of an http(s) URL, or "" if none
func ExtractURLHost(rawURL string) string {
	m := urlHostPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsReservedIP reports whether ip is private, loopback, link-local,
// multicast, unspecified or in another reserved range
func IsReservedIP(ip net.IP) bool {
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}

	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	addr = addr.Unmap()
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

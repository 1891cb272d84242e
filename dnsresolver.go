package protocol

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/go-protocol/log"
)

// ResolveStatus is the lifecycle of one name resolution. Failures are
// reported through the status, never as a panic or a callback.
type ResolveStatus int

const (
	// ResolveInProgress means the background lookup has not finished.
	ResolveInProgress ResolveStatus = iota
	// ResolveSucceeded means at least one address was found.
	ResolveSucceeded
	// ResolveFailed means the lookup finished with no addresses.
	ResolveFailed
)

// MaxResolveAddresses caps how many addresses one resolution keeps.
const MaxResolveAddresses = 16

// ResolveResult holds the addresses a name resolved to, most preferred
// first, up to MaxResolveAddresses.
type ResolveResult struct {
	Addresses []Address
}

// ResolveEntry tracks one name through resolution. Entries are owned
// by the resolver; callers hold them only as long as the resolver is
// alive and Clear has not been called.
type ResolveEntry struct {
	Status ResolveStatus
	Result ResolveResult

	done chan ResolveResult
}

// LookupFunc resolves a hostname (no port) to IPs. Production code
// uses the net package; tests inject a deterministic function.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// DNSResolver resolves names to addresses without ever blocking the
// caller: Resolve starts a background lookup per new name, and Update
// polls outstanding lookups, flipping their entries to succeeded or
// failed. This is the only concurrent component in the package; the
// goroutines communicate results over per-entry channels and share no
// state with the caller's thread.
//
// Results are cached by name for the resolver's lifetime. Resolving an
// already-known name is a no-op.
type DNSResolver struct {
	ipv6       bool
	lookup     LookupFunc
	entries    map[string]*ResolveEntry
	inProgress map[string]*ResolveEntry
	logger     *logrus.Logger
}

// NewDNSResolver builds a resolver. When ipv6 is true, lookups prefer
// IPv6 addresses and fall back to IPv4; otherwise only IPv4 results
// are kept. A nil logger discards diagnostics.
func NewDNSResolver(ipv6 bool, logger *logrus.Logger) *DNSResolver {
	return &DNSResolver{
		ipv6:       ipv6,
		lookup:     defaultLookup,
		entries:    make(map[string]*ResolveEntry),
		inProgress: make(map[string]*ResolveEntry),
		logger:     log.New(logger),
	}
}

// SetLookupFunc replaces the system resolver, for tests.
func (r *DNSResolver) SetLookupFunc(lookup LookupFunc) {
	r.lookup = lookup
}

// Resolve starts resolving name, which may carry a ":port" suffix
// applied to every resolved address. A name already known (in
// progress, succeeded, or failed) is not resolved again.
func (r *DNSResolver) Resolve(name string) {
	if _, known := r.entries[name]; known {
		return
	}

	entry := &ResolveEntry{
		Status: ResolveInProgress,
		done:   make(chan ResolveResult, 1),
	}
	r.entries[name] = entry
	r.inProgress[name] = entry

	host, port := splitNamePort(name)
	ipv6 := r.ipv6
	lookup := r.lookup
	go func() {
		entry.done <- resolveBlocking(lookup, host, port, ipv6)
	}()
}

// Update polls outstanding resolutions and transitions finished ones
// to succeeded or failed. Call it from the same tick loop that drives
// the Connection.
func (r *DNSResolver) Update(timeBase TimeBase) {
	for name, entry := range r.inProgress {
		select {
		case result := <-entry.done:
			entry.Result = result
			if len(result.Addresses) > 0 {
				entry.Status = ResolveSucceeded
			} else {
				entry.Status = ResolveFailed
			}
			delete(r.inProgress, name)
			r.logger.WithFields(logrus.Fields{
				"name":      name,
				"addresses": len(result.Addresses),
			}).Debug("dns resolution finished")
		default:
		}
	}
}

// GetEntry returns the entry for name, or nil if Resolve was never
// called for it (or the cache was cleared since).
func (r *DNSResolver) GetEntry(name string) *ResolveEntry {
	return r.entries[name]
}

// Clear drops the result cache. Entries still in progress are
// abandoned: their goroutines finish into their own channels and are
// collected along with the entries they belonged to.
func (r *DNSResolver) Clear() {
	r.entries = make(map[string]*ResolveEntry)
	r.inProgress = make(map[string]*ResolveEntry)
}

// NumPending returns the number of unfinished resolutions.
func (r *DNSResolver) NumPending() int {
	return len(r.inProgress)
}

func splitNamePort(name string) (host string, port uint16) {
	index := strings.LastIndex(name, ":")
	if index < 0 || strings.Contains(name[index:], "]") {
		return name, 0
	}
	parsed, err := strconv.ParseUint(name[index+1:], 10, 16)
	if err != nil {
		return name, 0
	}
	return name[:index], uint16(parsed)
}

func resolveBlocking(lookup LookupFunc, host string, port uint16, ipv6 bool) ResolveResult {
	ips, err := lookup(context.Background(), host)
	if err != nil {
		return ResolveResult{}
	}

	if ipv6 {
		// IPv6 results first; IPv4 results follow as the fallback.
		sort.SliceStable(ips, func(i, j int) bool {
			return ips[i].To4() == nil && ips[j].To4() != nil
		})
	}

	var result ResolveResult
	for _, ip := range ips {
		if len(result.Addresses) >= MaxResolveAddresses {
			break
		}
		if !ipv6 && ip.To4() == nil {
			continue
		}
		address := NewAddress(ip, port)
		if address.IsValid() {
			result.Addresses = append(result.Addresses, address)
		}
	}
	return result
}

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return ips, nil
}

package dns

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/health"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/types"
	"github.com/miekg/dns"
)

// RecordStore is the narrow slice of pkg/state's DataStore the
// authoritative zone needs: read the CRDT DNS map and apply the two
// mutations a dynamic UPDATE can produce. state.DataStore satisfies
// this without either package importing the other's full surface.
type RecordStore interface {
	GetDNSRecord(domain string) (*types.DnsRecord, bool)
	ListDNSRecords() []types.DnsRecord
	CreateDNSRecord(r *types.DnsRecord) (*types.DnsRecord, error)
	UpdateDNSRecord(r *types.DnsRecord) (*types.DnsRecord, error)
	DeleteDNSRecord(domain string) error
}

const (
	ttlHealthFiltered = 60
	ttlDefault        = 300
)

// Resolver answers authoritative queries against a CRDT-backed
// RecordStore: formnet-vs-public candidate selection, health filtering
// with graceful fallback, proximity ordering, and a two-tier TTL rule.
// It is the Go analogue of original_source/form-dns/src/authority.rs's
// lookup_local.
type Resolver struct {
	store    RecordStore
	health   *health.IPHealthRepository // nil disables health filtering entirely
	upstream []string
}

// NewResolver builds a Resolver over store. health may be nil, in which
// case health filtering is skipped entirely (TTL stays at 300).
func NewResolver(store RecordStore, health *health.IPHealthRepository, upstream []string) *Resolver {
	return &Resolver{store: store, health: health, upstream: upstream}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// Resolve answers a single question against the local zone. It returns
// ferrors.NotFound when the name has no local record, the signal
// handleQuery uses to forward to upstream.
func (r *Resolver) Resolve(qname string, qtype uint16, clientIP net.IP) ([]dns.RR, error) {
	key := normalizeName(qname)
	record, ok := r.store.GetDNSRecord(key)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "dns.Resolve", fmt.Sprintf("no record for %q", key))
	}

	if record.RecordType == types.RecordTypeCNAME {
		return []dns.RR{&dns.CNAME{
			Hdr:    dns.RR_Header{Name: dns.Fqdn(qname), Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: recordTTL(record, false)},
			Target: dns.Fqdn(record.CnameTarget),
		}}, nil
	}

	isFormnet := isFormnetClient(clientIP)
	candidates := candidateSet(record, isFormnet)

	filtered := candidates
	healthActive := false
	if r.health != nil {
		kept := r.health.Filter(candidates)
		if len(kept) > 0 {
			filtered = kept
			healthActive = true
		}
		// Filtering would empty the set -- fall back to unfiltered,
		// logging the degraded condition instead of returning NXDOMAIN.
		if len(kept) == 0 && len(candidates) > 0 {
			log.Logger.Warn().Str("domain", key).Msg("dns: health filter would empty answer set, serving unfiltered")
		}
	}

	sortByProximity(filtered, clientIP)

	ttl := recordTTL(record, healthActive)
	return buildRRSet(qname, qtype, filtered, ttl)
}

// isFormnetClient reports whether src is inside the 10.0.0.0/8 formnet
// overlay.
func isFormnetClient(src net.IP) bool {
	v4 := src.To4()
	return v4 != nil && v4[0] == 10
}

// candidateSet builds the ordered address pool: a formnet client sees
// formnet addresses first, then public addresses; any other client only
// ever sees public addresses.
func candidateSet(r *types.DnsRecord, isFormnet bool) []string {
	if !isFormnet {
		out := make([]string, len(r.PublicIP))
		copy(out, r.PublicIP)
		return out
	}
	out := make([]string, 0, len(r.FormnetIP)+len(r.PublicIP))
	out = append(out, r.FormnetIP...)
	out = append(out, r.PublicIP...)
	return out
}

// sortByProximity orders addrs by approximate distance to client,
// stable so that candidateSet's formnet-first ordering only breaks ties
// within equally-distant buckets.
func sortByProximity(addrs []string, client net.IP) {
	sort.SliceStable(addrs, func(i, j int) bool {
		return distanceFromClient(client, addrs[i]) < distanceFromClient(client, addrs[j])
	})
}

// recordTTL returns 60s when healthActive (a repository is wired and at
// least one candidate passed its filter, whether or not any address was
// removed), 300s otherwise, unless the record pins an explicit TTL.
func recordTTL(r *types.DnsRecord, healthActive bool) uint32 {
	if r.TTL != 0 {
		return r.TTL
	}
	if healthActive {
		return ttlHealthFiltered
	}
	return ttlDefault
}

// buildRRSet renders addrs (host:port strings) as A or AAAA records
// matching qtype, preserving each address's original port mapping in
// the record's implicit ordering (the port itself isn't representable
// in an A/AAAA RR; callers needing it read DnsRecord directly).
func buildRRSet(qname string, qtype uint16, addrs []string, ttl uint32) ([]dns.RR, error) {
	fqdn := dns.Fqdn(qname)
	var out []dns.RR
	for _, addr := range addrs {
		host := addr
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
		ip := net.ParseIP(host)
		if ip == nil {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			if qtype != dns.TypeA && qtype != dns.TypeANY {
				continue
			}
			out = append(out, &dns.A{
				Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
				A:   v4,
			})
			continue
		}
		if qtype != dns.TypeAAAA && qtype != dns.TypeANY {
			continue
		}
		out = append(out, &dns.AAAA{
			Hdr:  dns.RR_Header{Name: fqdn, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
			AAAA: ip,
		})
	}
	return out, nil
}

// ApplyUpdate implements dynamic DNS UPDATE semantics: an A/AAAA with
// TTL=0 deletes the matching address from whichever bucket holds it;
// TTL>0 upserts the record, appending the address into formnet_ip or
// public_ip depending on whether it's inside 10.0.0.0/8. A CNAME upsert
// replaces the target outright.
func (r *Resolver) ApplyUpdate(rr dns.RR) error {
	hdr := rr.Header()
	key := normalizeName(hdr.Name)

	switch v := rr.(type) {
	case *dns.CNAME:
		existing, ok := r.store.GetDNSRecord(key)
		if !ok {
			_, err := r.store.CreateDNSRecord(&types.DnsRecord{
				Domain: key, RecordType: types.RecordTypeCNAME, CnameTarget: v.Target, TTL: hdr.Ttl,
			})
			return err
		}
		existing.RecordType = types.RecordTypeCNAME
		existing.CnameTarget = v.Target
		_, err := r.store.UpdateDNSRecord(existing)
		return err

	case *dns.A:
		return r.applyAddressUpdate(key, v.A.String(), hdr.Ttl, types.RecordTypeA)

	case *dns.AAAA:
		return r.applyAddressUpdate(key, v.AAAA.String(), hdr.Ttl, types.RecordTypeAAAA)

	default:
		return ferrors.New(ferrors.InvalidInput, "dns.ApplyUpdate", fmt.Sprintf("unsupported update record type %d", hdr.Rrtype))
	}
}

func (r *Resolver) applyAddressUpdate(domain, ip string, ttl uint32, rtype types.RecordType) error {
	existing, ok := r.store.GetDNSRecord(domain)
	if ttl == 0 {
		if !ok {
			return nil
		}
		existing.FormnetIP = removeAddr(existing.FormnetIP, ip)
		existing.PublicIP = removeAddr(existing.PublicIP, ip)
		_, err := r.store.UpdateDNSRecord(existing)
		return err
	}

	formnet := net.ParseIP(ip).To4() != nil && net.ParseIP(ip).To4()[0] == 10
	if !ok {
		rec := &types.DnsRecord{Domain: domain, RecordType: rtype, TTL: ttl}
		if formnet {
			rec.FormnetIP = []string{ip}
		} else {
			rec.PublicIP = []string{ip}
		}
		_, err := r.store.CreateDNSRecord(rec)
		return err
	}
	if formnet {
		existing.FormnetIP = appendIfMissing(existing.FormnetIP, ip)
	} else {
		existing.PublicIP = appendIfMissing(existing.PublicIP, ip)
	}
	existing.TTL = ttl
	_, err := r.store.UpdateDNSRecord(existing)
	return err
}

func removeAddr(addrs []string, ip string) []string {
	out := addrs[:0]
	for _, a := range addrs {
		host := a
		if h, _, err := net.SplitHostPort(a); err == nil {
			host = h
		}
		if host != ip {
			out = append(out, a)
		}
	}
	return out
}

func appendIfMissing(addrs []string, ip string) []string {
	for _, a := range addrs {
		if a == ip {
			return addrs
		}
	}
	return append(addrs, ip)
}

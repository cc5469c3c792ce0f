/*
Package dns is Formation's authoritative DNS plane: a miekg/dns server
answering A/AAAA/CNAME queries directly out of the CRDT-replicated
DnsRecord zone (pkg/state), instead of delegating to a container
registry the way an ordinary service-discovery DNS server would.

# Answer shaping

Resolve:

  - formnet clients (source address in 10.0.0.0/8) see formnet addresses
    ahead of public addresses; every other client only ever sees public
    addresses.
  - a wired health.IPHealthRepository narrows the candidate set to
    currently-available addresses, but never to the point of returning
    an empty answer: if filtering would empty the set, the unfiltered
    set is served instead and a warning logged.
  - the surviving candidates are ordered by approximate distance to the
    client (geo.go), and answers carry a 60s TTL whenever a repository
    is wired and at least one candidate passes its filter (whether or
    not any address was removed), 300s otherwise, including the
    unfiltered fallback. A record with its own non-zero TTL keeps it.
  - CNAME records are returned verbatim regardless of query type, since
    a CNAME answer supersedes any A/AAAA question per RFC 1034.

A local miss returns ferrors.NotFound, at which point Server forwards
the query unmodified to the configured upstream resolvers and relays
whatever they answer.

# Dynamic updates

Server also accepts the DNS UPDATE opcode (RFC 2136): an A/AAAA record
with TTL 0 deletes the matching address from whichever bucket holds it,
TTL > 0 upserts the record and appends the address to formnet_ip or
public_ip depending on whether it parses into 10.0.0.0/8, and a CNAME
upsert replaces the target outright. This is the same path
original_source/form-dns/src/authority.rs calls apply_update.

# Wiring

	resolver := dns.NewResolver(dataStore, healthRepo, nil)
	server := dns.NewServer(resolver, &dns.Config{ListenAddr: ":5353", Upstream: []string{"1.1.1.1:53"}})
	go server.Start(ctx)

dataStore only needs to satisfy RecordStore (read + the two update
paths); healthRepo may be nil to disable filtering entirely.
*/
package dns

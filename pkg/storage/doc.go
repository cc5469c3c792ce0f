/*
Package storage provides BoltDB-backed durable persistence for a
Formation node's local view of the CRDT-replicated NetworkState, plus
the purely local certificate material that never leaves the node.

Every entity (Peer, CIDR, Association, DnsRecord, Instance, Agent,
Account) lives in its own bucket, keyed by the entity's natural id and
JSON-marshaled. pkg/state loads the Store at startup to reconstruct its
in-memory crdt.Map set, and writes through it on every accepted local
mutation and every merged remote update, so a restart never loses
committed state.

# Buckets

  - peers, cidrs, associations, dns_records, instances, agents, accounts:
    one entry per live CRDT value
  - tls_certificates: ACME-issued certificates keyed by id, with a
    by-host lookup that also matches "*." wildcard hosts; KeyPEM is
    encrypted at rest by
    pkg/proxy's ACMEClient via pkg/security.SecretsManager before it
    ever reaches this bucket

# Transaction model

Reads use db.View for concurrent, consistent snapshots; writes use
db.Update, which bbolt serializes across a single writer per database
file. Create and Update share the same upsert implementation since
JSON-keyed puts are naturally idempotent; Delete is a no-op on a
missing key rather than an error, so callers can retry cleanup freely.
*/
package storage

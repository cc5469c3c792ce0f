/*
Package state implements the CRDT state store: NetworkState composes
pkg/crdt Maps for peers, CIDRs, associations, DNS records, instances,
agents and accounts into a single replicated model, and DataStore wraps
it behind one mutex, persists every mutation to pkg/storage, and
broadcasts accepted ops to every currently active admin peer -- the Go
shape of form-state/src/datastore.rs's DataStore/NetworkState split.

Every exported HTTP handler in this package corresponds to one row of
the state store's operation table: peer/cidr/association/dns
create-update-delete-list, plus the bootstrap dumps a joining node uses
to catch up. Peer mutation enforces the same invariants
form-net/server/src/db/peer.rs enforces in SQL: a hostname(7)-shaped
name, CIDR containment and unicast-assignability on create, and an
update that only ever touches name/endpoint/is_admin/is_disabled/
candidates -- ip and public_key are pinned for the lifetime of the peer.
*/
package state

/*
Package crdt implements the conflict-free replicated data types that back
pkg/state's NetworkState: a last-writer-wins Register per value and an
add-wins observed-remove Map keyed by peer/CIDR/domain identifiers,
modeled on the crdts crate's Map<K, BFTReg<V, Actor>, Actor> used by
form-state/src/datastore.rs.

This package does not replicate the original's Byzantine-fault-tolerant
signature layer (BFTReg validates writes against a quorum of signed
votes): registers carry no signature, and pkg/state's broadcasts and
HTTP handlers do not authenticate the sending peer. Only the underlying
CRDT merge semantics -- commutativity, associativity, idempotence and
add-wins tombstones -- are reproduced here.
*/
package crdt

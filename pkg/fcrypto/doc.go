/*
Package fcrypto implements the identity primitives build requests and
instance/address derivation are grounded on: secp256k1 recoverable
signatures, SHA3-256 hashing and the deterministic id scheme used by
the build and placement engine.

Owner identity is an Ethereum-style address: the low 20 bytes of the
SHA3-256(Keccak-256 in the original Rust) hash of the uncompressed
public key recovered from a request's signature. A build's BuildID is
SHA3-256(owner_address || formfile.name); an Instance's InstanceID is
the hex encoding of the first 20 bytes of BuildID XORed with the first
20 bytes of the placement node's id, so the same (owner, name) pair
produces a different instance id on every node it is placed on.
*/
package fcrypto

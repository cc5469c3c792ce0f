/*
Package queue implements the intent queue: the durable, topic-sharded
append log that is the only legitimate path for a mutation to enter the
CRDT state plane. Every topic is hashed to a 32-byte key
(SHA3-256(topic name)) and stored in its own bbolt bucket with a
monotonically increasing big-endian uint64 index, so bucket iteration
order is index order -- the same bucket-per-entity persistence idiom
pkg/storage uses for CRDT entities.

Producers (the state store's HTTP handlers, the CLI's build submitter)
call Write. Consumers (the build engine, the state store) poll with
Get/GetN/GetAfter/GetNAfter, either in-process via the Queue interface
or over the HTTP surface in server.go, mirroring
form-net/server/src/db/peer.rs's pattern of posting queue writes to
"http://127.0.0.1:{QUEUE_PORT}/queue/write_local".
*/
package queue

/*
Package types defines the data model shared by every Formation component:
peers and CIDRs (the formnet overlay), associations between them, DNS
records served by the authoritative zone, and the build/placement
records (Instance, Agent, Account) produced by a workload build.

These are plain structs with JSON tags. CRDT replication (causal
context, merge) is a separate concern layered on top in pkg/crdt; this
package only describes the values being replicated.
*/
package types

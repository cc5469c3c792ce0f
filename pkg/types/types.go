package types

import (
	"net"
	"time"
)

// Peer is a member of the formnet WireGuard overlay and, when IsAdmin is
// set, a voting participant in CRDT state broadcast.
type Peer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"` // hostname(7)-conformant, <= 63 chars
	IP            net.IP    `json:"ip"`
	CidrID        string    `json:"cidr_id"`
	PublicKey     string    `json:"public_key"`
	Endpoint      string    `json:"endpoint,omitempty"` // host:port
	IsAdmin       bool      `json:"is_admin"`
	IsDisabled    bool      `json:"is_disabled"`
	IsRedeemed    bool      `json:"is_redeemed"`
	InviteExpires *int64    `json:"invite_expires,omitempty"` // unix seconds, nil = never
	Candidates    []string  `json:"candidates,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Expired reports whether an unredeemed invitation has passed its
// invite_expires deadline and is eligible for garbage collection.
func (p *Peer) Expired(now time.Time) bool {
	if p.IsRedeemed || p.InviteExpires == nil {
		return false
	}
	return *p.InviteExpires < now.Unix()
}

// CIDR is a node in the address-space tree that peers are assigned from.
type CIDR struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Cidr     string  `json:"cidr"` // network, e.g. "10.0.1.0/24"
	ParentID *string `json:"parent,omitempty"`
}

// InfraCidrID is the distinguished CIDR every peer is implicitly
// associated with, regardless of its own subtree.
const InfraCidrID = "infra"

// Association grants mutual visibility between peers in two CIDR subtrees.
// The pair is unordered: (A, B) and (B, A) denote the same association.
type Association struct {
	CidrID1 string `json:"cidr_id_1"`
	CidrID2 string `json:"cidr_id_2"`
}

// Key returns a canonical, order-independent identifier for the pair.
func (a Association) Key() (string, string) {
	if a.CidrID1 <= a.CidrID2 {
		return a.CidrID1, a.CidrID2
	}
	return a.CidrID2, a.CidrID1
}

// RecordType enumerates the DNS record kinds the authoritative zone serves.
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeCNAME RecordType = "CNAME"
)

// VerificationStatus tracks domain-ownership verification for a DnsRecord.
type VerificationStatus string

const (
	VerificationNotVerified VerificationStatus = "not_verified"
	VerificationPending     VerificationStatus = "pending"
	VerificationVerified    VerificationStatus = "verified"
	VerificationFailed      VerificationStatus = "failed"
)

// DnsRecord is one entry in the CRDT-replicated authoritative DNS zone.
// Domain is stored lowercased with any trailing dot stripped; it is the
// map key in NetworkState's DNS zone.
type DnsRecord struct {
	Domain                string             `json:"domain"`
	RecordType            RecordType         `json:"record_type"`
	FormnetIP             []string           `json:"formnet_ip"` // host:port, 10.0.0.0/8 overlay
	PublicIP              []string           `json:"public_ip"`  // host:port
	CnameTarget           string             `json:"cname_target,omitempty"`
	SSLCert               bool               `json:"ssl_cert"`
	TTL                   uint32             `json:"ttl"`
	VerificationStatus    VerificationStatus `json:"verification_status"`
	VerificationTimestamp *int64             `json:"verification_timestamp,omitempty"`
}

// InstanceStatus is the engine-visible lifecycle state of a built workload.
type InstanceStatus string

const (
	InstanceBuilding InstanceStatus = "building"
	InstanceBuilt    InstanceStatus = "built"
	InstanceRunning  InstanceStatus = "running"
	InstanceFailed   InstanceStatus = "failed"
)

// GPUResource describes a requested GPU allocation parsed from a Formfile's
// "MODEL:COUNT" syntax (e.g. "H100:2").
type GPUResource struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// Resources is the resource envelope requested by a Formfile and carried
// on the resulting Instance/Agent records.
type Resources struct {
	VCPUs         uint8         `json:"vcpus"`
	MemoryMB      uint64        `json:"memory_mb"`
	BandwidthMbps uint64        `json:"bandwidth_mbps,omitempty"`
	StorageGB     uint64        `json:"storage_gb,omitempty"`
	GPU           []GPUResource `json:"gpu,omitempty"`
}

// Instance is a single build-and-boot of a Formfile workload.
//
// InstanceID = hex(first20(BuildID) XOR first20(NodeID)): deterministic
// from (node, build) per spec P5. BuildID = SHA3-256(owner || name): P4.
type Instance struct {
	InstanceID   string         `json:"instance_id"`
	BuildID      string         `json:"build_id"` // hex(sha3_256(owner||name))
	NodeID       string         `json:"node_id"`
	Owner        string         `json:"owner"` // recovered secp256k1 address, hex
	Name         string         `json:"name"`
	Status       InstanceStatus `json:"status"`
	Resources    Resources      `json:"resources"`
	FormfileJSON string         `json:"formfile_json"` // snapshot at build time
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	FailedReason string         `json:"failed_reason,omitempty"`
}

// Agent is the deployable template bound to an Instance: the formfile
// used to produce it, the model (if any) it requires, and bookkeeping
// updated as builds complete.
type Agent struct {
	AgentID         string            `json:"agent_id"`
	Name            string            `json:"name"`
	FormfileBase64  string            `json:"formfile_base64"`
	ModelID         string            `json:"model_id,omitempty"`
	IsModelRequired bool              `json:"is_model_required"`
	Resources       Resources         `json:"resources"`
	Metadata        map[string]string `json:"metadata"` // includes build_id, instance_id
	DeploymentCount uint64            `json:"deployment_count"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Account tracks which instances an owner address has created.
type Account struct {
	Owner       string          `json:"owner"` // secp256k1 address, hex
	InstanceIDs map[string]bool `json:"instance_ids"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Formfile is the declarative workload manifest submitted by a user. It
// is built into a disk image and then booted as a micro-VM.
type Formfile struct {
	Name            string   `json:"name" yaml:"name"`
	VCPUs           uint8    `json:"vcpus" yaml:"vcpus"`
	MemoryMB        uint64   `json:"memory" yaml:"memory"`
	StorageGB       uint64   `json:"storage" yaml:"storage"` // default 5
	GPUDevices      []string `json:"gpu_devices,omitempty" yaml:"gpu_devices,omitempty"`
	ModelID         string   `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	IsModelRequired bool     `json:"is_model_required,omitempty" yaml:"is_model_required,omitempty"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Copy            []string `json:"copy,omitempty" yaml:"copy,omitempty"`
	Run             []string `json:"run,omitempty" yaml:"run,omitempty"`
}

// TLSCertificate is an ACME-issued certificate covering one or more
// DnsRecord domains. Unlike Peer/CIDR/DnsRecord this is not part of the
// CRDT-replicated NetworkState: each node issues and renews its own
// certificates locally against the domains it terminates TLS for.
type TLSCertificate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hosts     []string  `json:"hosts"`
	CertPEM   []byte    `json:"cert_pem"`
	KeyPEM    []byte    `json:"key_pem"`
	Issuer    string    `json:"issuer"`
	AutoRenew bool      `json:"auto_renew"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

package storage

import (
	"github.com/cuemby/formation/pkg/types"
)

// Store is the durable persistence surface backing pkg/state's
// NetworkState: every CRDT-replicated entity is mirrored here so a node
// can restart without replaying its entire gossip history, plus the
// non-replicated local material (TLS certificates) that never leaves the
// node it was written on. The intent queue's log is not kept here;
// pkg/queue stores it in its own file.
type Store interface {
	// Peers
	CreatePeer(peer *types.Peer) error
	GetPeer(id string) (*types.Peer, error)
	GetPeerByIP(ip string) (*types.Peer, error)
	ListPeers() ([]*types.Peer, error)
	UpdatePeer(peer *types.Peer) error
	DeletePeer(id string) error

	// CIDRs
	CreateCIDR(cidr *types.CIDR) error
	GetCIDR(id string) (*types.CIDR, error)
	ListCIDRs() ([]*types.CIDR, error)
	DeleteCIDR(id string) error

	// Associations
	CreateAssociation(assoc *types.Association) error
	ListAssociations() ([]*types.Association, error)
	DeleteAssociation(cidrID1, cidrID2 string) error

	// DNS records
	CreateDNSRecord(record *types.DnsRecord) error
	GetDNSRecord(domain string) (*types.DnsRecord, error)
	ListDNSRecords() ([]*types.DnsRecord, error)
	UpdateDNSRecord(record *types.DnsRecord) error
	DeleteDNSRecord(domain string) error

	// Instances
	CreateInstance(instance *types.Instance) error
	GetInstance(id string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	UpdateInstance(instance *types.Instance) error
	DeleteInstance(id string) error

	// Agents
	CreateAgent(agent *types.Agent) error
	GetAgent(id string) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	UpdateAgent(agent *types.Agent) error
	DeleteAgent(id string) error

	// Accounts
	CreateAccount(account *types.Account) error
	GetAccount(owner string) (*types.Account, error)
	ListAccounts() ([]*types.Account, error)
	UpdateAccount(account *types.Account) error

	// TLS Certificates, issued per DnsRecord via ACME
	CreateTLSCertificate(cert *types.TLSCertificate) error
	GetTLSCertificate(id string) (*types.TLSCertificate, error)
	GetTLSCertificatesByHost(host string) ([]*types.TLSCertificate, error)
	ListTLSCertificates() ([]*types.TLSCertificate, error)
	UpdateTLSCertificate(cert *types.TLSCertificate) error
	DeleteTLSCertificate(id string) error

	// Utility
	Close() error
}

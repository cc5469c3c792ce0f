package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/formation/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketPeers           = []byte("peers")
	bucketCIDRs           = []byte("cidrs")
	bucketAssociations    = []byte("associations")
	bucketDNSRecords      = []byte("dns_records")
	bucketInstances       = []byte("instances")
	bucketAgents          = []byte("agents")
	bucketAccounts        = []byte("accounts")
	bucketTLSCertificates = []byte("tls_certificates")
)

// BoltStore implements Store on top of a single bbolt file, one bucket
// per entity, JSON-marshaled values keyed by the entity's natural id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a bbolt database under
// dataDir and provisions every bucket Store needs.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "formation.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPeers,
			bucketCIDRs,
			bucketAssociations,
			bucketDNSRecords,
			bucketInstances,
			bucketAgents,
			bucketAccounts,
			bucketTLSCertificates,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Peers ---

func (s *BoltStore) CreatePeer(peer *types.Peer) error {
	return s.put(bucketPeers, peer.ID, peer)
}

func (s *BoltStore) GetPeer(id string) (*types.Peer, error) {
	var peer types.Peer
	if err := s.get(bucketPeers, id, &peer); err != nil {
		return nil, err
	}
	return &peer, nil
}

func (s *BoltStore) GetPeerByIP(ip string) (*types.Peer, error) {
	peers, err := s.ListPeers()
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		if p.IP.String() == ip {
			return p, nil
		}
	}
	return nil, fmt.Errorf("peer not found for ip: %s", ip)
}

func (s *BoltStore) ListPeers() ([]*types.Peer, error) {
	var peers []*types.Peer
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			var p types.Peer
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			peers = append(peers, &p)
			return nil
		})
	})
	return peers, err
}

func (s *BoltStore) UpdatePeer(peer *types.Peer) error {
	return s.put(bucketPeers, peer.ID, peer)
}

func (s *BoltStore) DeletePeer(id string) error {
	return s.delete(bucketPeers, id)
}

// --- CIDRs ---

func (s *BoltStore) CreateCIDR(cidr *types.CIDR) error {
	return s.put(bucketCIDRs, cidr.ID, cidr)
}

func (s *BoltStore) GetCIDR(id string) (*types.CIDR, error) {
	var cidr types.CIDR
	if err := s.get(bucketCIDRs, id, &cidr); err != nil {
		return nil, err
	}
	return &cidr, nil
}

func (s *BoltStore) ListCIDRs() ([]*types.CIDR, error) {
	var cidrs []*types.CIDR
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCIDRs).ForEach(func(k, v []byte) error {
			var c types.CIDR
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			cidrs = append(cidrs, &c)
			return nil
		})
	})
	return cidrs, err
}

func (s *BoltStore) DeleteCIDR(id string) error {
	return s.delete(bucketCIDRs, id)
}

// --- Associations ---

func associationKey(cidrID1, cidrID2 string) string {
	a := types.Association{CidrID1: cidrID1, CidrID2: cidrID2}
	k1, k2 := a.Key()
	return k1 + "/" + k2
}

func (s *BoltStore) CreateAssociation(assoc *types.Association) error {
	return s.put(bucketAssociations, associationKey(assoc.CidrID1, assoc.CidrID2), assoc)
}

func (s *BoltStore) ListAssociations() ([]*types.Association, error) {
	var assocs []*types.Association
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssociations).ForEach(func(k, v []byte) error {
			var a types.Association
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			assocs = append(assocs, &a)
			return nil
		})
	})
	return assocs, err
}

func (s *BoltStore) DeleteAssociation(cidrID1, cidrID2 string) error {
	return s.delete(bucketAssociations, associationKey(cidrID1, cidrID2))
}

// --- DNS records ---

func dnsKey(domain string) string {
	return strings.ToLower(strings.TrimSuffix(domain, "."))
}

func (s *BoltStore) CreateDNSRecord(record *types.DnsRecord) error {
	return s.put(bucketDNSRecords, dnsKey(record.Domain), record)
}

func (s *BoltStore) GetDNSRecord(domain string) (*types.DnsRecord, error) {
	var record types.DnsRecord
	if err := s.get(bucketDNSRecords, dnsKey(domain), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListDNSRecords() ([]*types.DnsRecord, error) {
	var records []*types.DnsRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDNSRecords).ForEach(func(k, v []byte) error {
			var r types.DnsRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			records = append(records, &r)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) UpdateDNSRecord(record *types.DnsRecord) error {
	return s.put(bucketDNSRecords, dnsKey(record.Domain), record)
}

func (s *BoltStore) DeleteDNSRecord(domain string) error {
	return s.delete(bucketDNSRecords, dnsKey(domain))
}

// --- Instances ---

func (s *BoltStore) CreateInstance(instance *types.Instance) error {
	return s.put(bucketInstances, instance.InstanceID, instance)
}

func (s *BoltStore) GetInstance(id string) (*types.Instance, error) {
	var instance types.Instance
	if err := s.get(bucketInstances, id, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var i types.Instance
			if err := json.Unmarshal(v, &i); err != nil {
				return err
			}
			instances = append(instances, &i)
			return nil
		})
	})
	return instances, err
}

func (s *BoltStore) UpdateInstance(instance *types.Instance) error {
	return s.put(bucketInstances, instance.InstanceID, instance)
}

func (s *BoltStore) DeleteInstance(id string) error {
	return s.delete(bucketInstances, id)
}

// --- Agents ---

func (s *BoltStore) CreateAgent(agent *types.Agent) error {
	return s.put(bucketAgents, agent.AgentID, agent)
}

func (s *BoltStore) GetAgent(id string) (*types.Agent, error) {
	var agent types.Agent
	if err := s.get(bucketAgents, id, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var a types.Agent
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			agents = append(agents, &a)
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) UpdateAgent(agent *types.Agent) error {
	return s.put(bucketAgents, agent.AgentID, agent)
}

func (s *BoltStore) DeleteAgent(id string) error {
	return s.delete(bucketAgents, id)
}

// --- Accounts ---

func (s *BoltStore) CreateAccount(account *types.Account) error {
	return s.put(bucketAccounts, account.Owner, account)
}

func (s *BoltStore) GetAccount(owner string) (*types.Account, error) {
	var account types.Account
	if err := s.get(bucketAccounts, owner, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *BoltStore) ListAccounts() ([]*types.Account, error) {
	var accounts []*types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var a types.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			accounts = append(accounts, &a)
			return nil
		})
	})
	return accounts, err
}

func (s *BoltStore) UpdateAccount(account *types.Account) error {
	return s.put(bucketAccounts, account.Owner, account)
}

// --- TLS Certificates ---

func (s *BoltStore) CreateTLSCertificate(cert *types.TLSCertificate) error {
	return s.put(bucketTLSCertificates, cert.ID, cert)
}

func (s *BoltStore) GetTLSCertificate(id string) (*types.TLSCertificate, error) {
	var cert types.TLSCertificate
	if err := s.get(bucketTLSCertificates, id, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

func (s *BoltStore) GetTLSCertificatesByHost(host string) ([]*types.TLSCertificate, error) {
	certs, err := s.ListTLSCertificates()
	if err != nil {
		return nil, err
	}
	var matched []*types.TLSCertificate
	for _, cert := range certs {
		for _, h := range cert.Hosts {
			if h == host || matchWildcard(h, host) {
				matched = append(matched, cert)
				break
			}
		}
	}
	return matched, nil
}

func (s *BoltStore) ListTLSCertificates() ([]*types.TLSCertificate, error) {
	var certs []*types.TLSCertificate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTLSCertificates).ForEach(func(k, v []byte) error {
			var c types.TLSCertificate
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			certs = append(certs, &c)
			return nil
		})
	})
	return certs, err
}

func (s *BoltStore) UpdateTLSCertificate(cert *types.TLSCertificate) error {
	return s.put(bucketTLSCertificates, cert.ID, cert)
}

func (s *BoltStore) DeleteTLSCertificate(id string) error {
	return s.delete(bucketTLSCertificates, id)
}

// matchWildcard reports whether a "*.example.com" pattern matches host.
func matchWildcard(pattern, host string) bool {
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	suffix := pattern[1:]
	return strings.HasSuffix(host, suffix)
}

// --- generic helpers ---

func (s *BoltStore) put(bucket []byte, key string, value any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, out any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("not found: %s", key)
		}
		return json.Unmarshal(data, out)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

package state

import (
	"fmt"
	"strings"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/types"
)

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSuffix(domain, "."))
}

// CreateDNSRecord enqueues and applies a new authoritative record.
func (ds *DataStore) CreateDNSRecord(r *types.DnsRecord) (*types.DnsRecord, error) {
	r.Domain = normalizeDomain(r.Domain)
	if _, err := ds.Enqueue(queue.SubtopicStateDnsRequest, DnsRequest{Op: "create", Record: r}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	v, ok := ds.state.DNS.Get(r.Domain)
	if !ok {
		return nil, ferrors.New(ferrors.Internal, "state.CreateDNSRecord", "record was not applied")
	}
	return &v, nil
}

// UpdateDNSRecord enqueues and applies a record update.
func (ds *DataStore) UpdateDNSRecord(r *types.DnsRecord) (*types.DnsRecord, error) {
	r.Domain = normalizeDomain(r.Domain)
	if _, err := ds.Enqueue(queue.SubtopicStateDnsRequest, DnsRequest{Op: "update", Record: r}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	v, ok := ds.state.DNS.Get(r.Domain)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.UpdateDNSRecord", fmt.Sprintf("record %q not found", r.Domain))
	}
	return &v, nil
}

// DeleteDNSRecord enqueues and applies a record removal.
func (ds *DataStore) DeleteDNSRecord(domain string) error {
	domain = normalizeDomain(domain)
	if _, err := ds.Enqueue(queue.SubtopicStateDnsRequest, DnsRequest{Op: "delete", Domain: domain}); err != nil {
		return err
	}
	_, err := ds.ConsumeOnce()
	return err
}

// GetDNSRecord returns a live record by domain.
func (ds *DataStore) GetDNSRecord(domain string) (*types.DnsRecord, bool) {
	v, ok := ds.state.DNS.Get(normalizeDomain(domain))
	if !ok {
		return nil, false
	}
	return &v, true
}

// ListDNSRecords returns every live record.
func (ds *DataStore) ListDNSRecords() []types.DnsRecord {
	out := make([]types.DnsRecord, 0, ds.state.DNS.Len())
	ds.state.DNS.Range(func(_ string, r types.DnsRecord) bool {
		out = append(out, r)
		return true
	})
	return out
}

func (ds *DataStore) applyDnsRequest(req DnsRequest) (*types.DnsRecord, error) {
	unlock := ds.lock()
	defer unlock()

	switch req.Op {
	case "create":
		return ds.applyDnsCreate(req.Record)
	case "update":
		return ds.applyDnsUpdate(req.Record)
	case "delete":
		return nil, ds.applyDnsDelete(req.Domain)
	default:
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyDnsRequest", fmt.Sprintf("unknown dns op %q", req.Op))
	}
}

func (ds *DataStore) applyDnsCreate(r *types.DnsRecord) (*types.DnsRecord, error) {
	if r == nil {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyDnsCreate", "record is required")
	}
	r.Domain = normalizeDomain(r.Domain)
	if r.Domain == "" {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyDnsCreate", "domain is required")
	}
	if r.RecordType == types.RecordTypeCNAME && r.CnameTarget == "" {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyDnsCreate", "cname records require a target")
	}
	if r.VerificationStatus == "" {
		r.VerificationStatus = types.VerificationNotVerified
	}
	ds.state.DNS.Add(ds.nodeID, r.Domain, *r)
	if err := ds.store.CreateDNSRecord(r); err != nil {
		return nil, err
	}
	ds.broadcast("dns/create", DnsRequest{Op: "create", Record: r})
	return r, nil
}

func (ds *DataStore) applyDnsUpdate(r *types.DnsRecord) (*types.DnsRecord, error) {
	if r == nil {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyDnsUpdate", "record is required")
	}
	r.Domain = normalizeDomain(r.Domain)
	existing, ok := ds.state.DNS.Get(r.Domain)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.applyDnsUpdate", fmt.Sprintf("record %q not found", r.Domain))
	}
	existing.RecordType = r.RecordType
	existing.FormnetIP = r.FormnetIP
	existing.PublicIP = r.PublicIP
	existing.CnameTarget = r.CnameTarget
	existing.SSLCert = r.SSLCert
	existing.TTL = r.TTL
	if r.VerificationStatus != "" {
		existing.VerificationStatus = r.VerificationStatus
		existing.VerificationTimestamp = r.VerificationTimestamp
	}
	ds.state.DNS.Add(ds.nodeID, existing.Domain, existing)
	if err := ds.store.UpdateDNSRecord(&existing); err != nil {
		return nil, err
	}
	ds.broadcast("dns/update", DnsRequest{Op: "update", Record: &existing})
	return &existing, nil
}

func (ds *DataStore) applyDnsDelete(domain string) error {
	domain = normalizeDomain(domain)
	if _, ok := ds.state.DNS.Get(domain); !ok {
		return ferrors.New(ferrors.NotFound, "state.applyDnsDelete", fmt.Sprintf("record %q not found", domain))
	}
	ds.state.DNS.Rm(ds.nodeID, domain)
	if err := ds.store.DeleteDNSRecord(domain); err != nil {
		return err
	}
	ds.broadcast("dns/delete", DnsRequest{Op: "delete", Domain: domain})
	return nil
}

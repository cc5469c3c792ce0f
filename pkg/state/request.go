package state

import "github.com/cuemby/formation/pkg/types"

// PeerRequest is the payload enqueued on the "state" topic under
// SubtopicStatePeerRequest. It mirrors form-state/src/datastore.rs's
// PeerRequest enum (Op/Join/Update/Delete) as a single tagged struct,
// since Go has no sum types.
type PeerRequest struct {
	Op   string      `json:"op"` // "join", "update", "delete", "redeem"
	Peer *types.Peer `json:"peer,omitempty"`
	ID   string      `json:"id,omitempty"`
}

// CidrRequest mirrors form-state/src/datastore.rs's CidrRequest enum.
type CidrRequest struct {
	Op   string     `json:"op"` // "create", "update", "delete"
	Cidr *types.CIDR `json:"cidr,omitempty"`
	ID   string     `json:"id,omitempty"`
}

// AssocRequest mirrors form-state/src/datastore.rs's AssocRequest enum.
type AssocRequest struct {
	Op    string             `json:"op"` // "create", "delete"
	Assoc *types.Association `json:"assoc,omitempty"`
}

// DnsRequest carries authoritative DNS zone mutations through the queue.
type DnsRequest struct {
	Op     string          `json:"op"` // "create", "update", "delete"
	Record *types.DnsRecord `json:"record,omitempty"`
	Domain string          `json:"domain,omitempty"`
}

// InstanceRequest carries build-engine instance lifecycle updates.
type InstanceRequest struct {
	Op       string          `json:"op"` // "create", "update", "delete"
	Instance *types.Instance `json:"instance,omitempty"`
	ID       string          `json:"id,omitempty"`
}

// AgentRequest carries agent template create/update/delete.
type AgentRequest struct {
	Op    string       `json:"op"`
	Agent *types.Agent `json:"agent,omitempty"`
	ID    string       `json:"id,omitempty"`
}

// AccountRequest carries account create/update.
type AccountRequest struct {
	Op      string        `json:"op"`
	Account *types.Account `json:"account,omitempty"`
}

// Response wraps a single value or an error message for handlers that
// can either succeed with a value or fail, mirroring
// form-state/src/datastore.rs's Response<T>.
type Response struct {
	Success bool        `json:"success"`
	Value   interface{} `json:"value,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(v interface{}) Response    { return Response{Success: true, Value: v} }
func fail(msg string) Response     { return Response{Success: false, Error: msg} }

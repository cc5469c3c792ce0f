package state

import (
	"fmt"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/types"
)

// CreateAssociation enqueues and applies a new CIDR association.
func (ds *DataStore) CreateAssociation(a *types.Association) (*types.Association, error) {
	if _, err := ds.Enqueue(queue.SubtopicStateAssocRequest, AssocRequest{Op: "create", Assoc: a}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	k1, k2 := a.Key()
	v, ok := ds.state.Assocs.Get(k1 + "/" + k2)
	if !ok {
		return nil, ferrors.New(ferrors.Internal, "state.CreateAssociation", "association was not applied")
	}
	return &v, nil
}

// DeleteAssociation enqueues and applies an association removal.
func (ds *DataStore) DeleteAssociation(cidrID1, cidrID2 string) error {
	if _, err := ds.Enqueue(queue.SubtopicStateAssocRequest, AssocRequest{Op: "delete", Assoc: &types.Association{CidrID1: cidrID1, CidrID2: cidrID2}}); err != nil {
		return err
	}
	_, err := ds.ConsumeOnce()
	return err
}

// ListAssociations returns every live association.
func (ds *DataStore) ListAssociations() []types.Association {
	out := make([]types.Association, 0, ds.state.Assocs.Len())
	ds.state.Assocs.Range(func(_ string, a types.Association) bool {
		out = append(out, a)
		return true
	})
	return out
}

// AreAssociated reports whether two CIDRs share a direct association.
func (ds *DataStore) AreAssociated(cidrID1, cidrID2 string) bool {
	k1, k2 := (types.Association{CidrID1: cidrID1, CidrID2: cidrID2}).Key()
	_, ok := ds.state.Assocs.Get(k1 + "/" + k2)
	return ok
}

func (ds *DataStore) applyAssocRequest(req AssocRequest) error {
	unlock := ds.lock()
	defer unlock()

	if req.Assoc == nil {
		return ferrors.New(ferrors.InvalidInput, "state.applyAssocRequest", "association is required")
	}
	k1, k2 := req.Assoc.Key()
	key := k1 + "/" + k2

	switch req.Op {
	case "create":
		if _, ok := ds.state.Cidrs.Get(req.Assoc.CidrID1); !ok {
			return ferrors.New(ferrors.InvalidInput, "state.applyAssocRequest", fmt.Sprintf("cidr %q does not exist", req.Assoc.CidrID1))
		}
		if _, ok := ds.state.Cidrs.Get(req.Assoc.CidrID2); !ok {
			return ferrors.New(ferrors.InvalidInput, "state.applyAssocRequest", fmt.Sprintf("cidr %q does not exist", req.Assoc.CidrID2))
		}
		ds.state.Assocs.Add(ds.nodeID, key, *req.Assoc)
		if err := ds.store.CreateAssociation(req.Assoc); err != nil {
			return err
		}
		ds.broadcast("assoc/create", AssocRequest{Op: "create", Assoc: req.Assoc})
		return nil
	case "delete":
		ds.state.Assocs.Rm(ds.nodeID, key)
		if err := ds.store.DeleteAssociation(req.Assoc.CidrID1, req.Assoc.CidrID2); err != nil {
			return err
		}
		ds.broadcast("assoc/delete", AssocRequest{Op: "delete", Assoc: req.Assoc})
		return nil
	default:
		return ferrors.New(ferrors.InvalidInput, "state.applyAssocRequest", fmt.Sprintf("unknown assoc op %q", req.Op))
	}
}

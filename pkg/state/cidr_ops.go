package state

import (
	"fmt"
	"net"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/types"
)

// CreateCIDR enqueues and applies a new CIDR node.
func (ds *DataStore) CreateCIDR(cidr *types.CIDR) (*types.CIDR, error) {
	if _, err := ds.Enqueue(queue.SubtopicStateCidrRequest, CidrRequest{Op: "create", Cidr: cidr}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	c, ok := ds.state.Cidrs.Get(cidr.ID)
	if !ok {
		return nil, ferrors.New(ferrors.Internal, "state.CreateCIDR", "cidr was not applied")
	}
	return &c, nil
}

// UpdateCIDR enqueues and applies a CIDR update.
func (ds *DataStore) UpdateCIDR(cidr *types.CIDR) (*types.CIDR, error) {
	if _, err := ds.Enqueue(queue.SubtopicStateCidrRequest, CidrRequest{Op: "update", Cidr: cidr}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	c, ok := ds.state.Cidrs.Get(cidr.ID)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.UpdateCIDR", fmt.Sprintf("cidr %q not found", cidr.ID))
	}
	return &c, nil
}

// DeleteCIDR enqueues and applies a CIDR removal. A CIDR still holding
// live peers cannot be deleted.
func (ds *DataStore) DeleteCIDR(id string) error {
	if len(ds.ListPeersInCidr(id)) > 0 {
		return ferrors.New(ferrors.InvalidInput, "state.DeleteCIDR", fmt.Sprintf("cidr %q still has peers assigned", id))
	}
	if _, err := ds.Enqueue(queue.SubtopicStateCidrRequest, CidrRequest{Op: "delete", ID: id}); err != nil {
		return err
	}
	_, err := ds.ConsumeOnce()
	return err
}

// GetCIDR returns a live CIDR by id.
func (ds *DataStore) GetCIDR(id string) (*types.CIDR, bool) {
	c, ok := ds.state.Cidrs.Get(id)
	if !ok {
		return nil, false
	}
	return &c, true
}

// ListCIDRs returns every live CIDR.
func (ds *DataStore) ListCIDRs() []types.CIDR {
	out := make([]types.CIDR, 0, ds.state.Cidrs.Len())
	ds.state.Cidrs.Range(func(_ string, c types.CIDR) bool {
		out = append(out, c)
		return true
	})
	return out
}

func (ds *DataStore) applyCidrRequest(req CidrRequest) (*types.CIDR, error) {
	unlock := ds.lock()
	defer unlock()

	switch req.Op {
	case "create":
		return ds.applyCidrCreate(req.Cidr)
	case "update":
		return ds.applyCidrUpdate(req.Cidr)
	case "delete":
		return nil, ds.applyCidrDelete(req.ID)
	default:
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyCidrRequest", fmt.Sprintf("unknown cidr op %q", req.Op))
	}
}

func (ds *DataStore) applyCidrCreate(c *types.CIDR) (*types.CIDR, error) {
	if c == nil {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyCidrCreate", "cidr is required")
	}
	if _, _, err := net.ParseCIDR(c.Cidr); err != nil {
		return nil, ferrors.Wrap(ferrors.InvalidInput, "state.applyCidrCreate", fmt.Sprintf("invalid cidr %q", c.Cidr), err)
	}
	if c.ParentID != nil {
		if _, ok := ds.state.Cidrs.Get(*c.ParentID); !ok {
			return nil, ferrors.New(ferrors.InvalidInput, "state.applyCidrCreate", fmt.Sprintf("parent cidr %q does not exist", *c.ParentID))
		}
	}
	ds.state.Cidrs.Add(ds.nodeID, c.ID, *c)
	if err := ds.store.CreateCIDR(c); err != nil {
		return nil, err
	}
	ds.broadcast("cidr/create", CidrRequest{Op: "create", Cidr: c})
	return c, nil
}

func (ds *DataStore) applyCidrUpdate(c *types.CIDR) (*types.CIDR, error) {
	if c == nil {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyCidrUpdate", "cidr is required")
	}
	existing, ok := ds.state.Cidrs.Get(c.ID)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.applyCidrUpdate", fmt.Sprintf("cidr %q not found", c.ID))
	}
	existing.Name = c.Name
	if c.Cidr != "" {
		if _, _, err := net.ParseCIDR(c.Cidr); err != nil {
			return nil, ferrors.Wrap(ferrors.InvalidInput, "state.applyCidrUpdate", fmt.Sprintf("invalid cidr %q", c.Cidr), err)
		}
		existing.Cidr = c.Cidr
	}
	ds.state.Cidrs.Add(ds.nodeID, existing.ID, existing)
	if err := ds.store.CreateCIDR(&existing); err != nil { // upsert
		return nil, err
	}
	ds.broadcast("cidr/update", CidrRequest{Op: "update", Cidr: &existing})
	return &existing, nil
}

func (ds *DataStore) applyCidrDelete(id string) error {
	if _, ok := ds.state.Cidrs.Get(id); !ok {
		return ferrors.New(ferrors.NotFound, "state.applyCidrDelete", fmt.Sprintf("cidr %q not found", id))
	}
	ds.state.Cidrs.Rm(ds.nodeID, id)
	if err := ds.store.DeleteCIDR(id); err != nil {
		return err
	}
	ds.broadcast("cidr/delete", CidrRequest{Op: "delete", ID: id})
	return nil
}

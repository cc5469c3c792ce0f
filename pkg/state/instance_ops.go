package state

import (
	"fmt"
	"time"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/types"
)

// CreateInstance enqueues and applies a new build-and-boot record.
func (ds *DataStore) CreateInstance(i *types.Instance) (*types.Instance, error) {
	if _, err := ds.Enqueue(queue.SubtopicStateInstanceRequest, InstanceRequest{Op: "create", Instance: i}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	v, ok := ds.state.Instances.Get(i.InstanceID)
	if !ok {
		return nil, ferrors.New(ferrors.Internal, "state.CreateInstance", "instance was not applied")
	}
	return &v, nil
}

// UpdateInstance enqueues and applies an instance status/field update.
func (ds *DataStore) UpdateInstance(i *types.Instance) (*types.Instance, error) {
	if _, err := ds.Enqueue(queue.SubtopicStateInstanceRequest, InstanceRequest{Op: "update", Instance: i}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	v, ok := ds.state.Instances.Get(i.InstanceID)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.UpdateInstance", fmt.Sprintf("instance %q not found", i.InstanceID))
	}
	return &v, nil
}

// GetInstance returns a live instance by id.
func (ds *DataStore) GetInstance(id string) (*types.Instance, bool) {
	v, ok := ds.state.Instances.Get(id)
	if !ok {
		return nil, false
	}
	return &v, true
}

// ListInstances returns every live instance.
func (ds *DataStore) ListInstances() []types.Instance {
	out := make([]types.Instance, 0, ds.state.Instances.Len())
	ds.state.Instances.Range(func(_ string, i types.Instance) bool {
		out = append(out, i)
		return true
	})
	return out
}

// ListInstancesByOwner returns every live instance owned by owner.
func (ds *DataStore) ListInstancesByOwner(owner string) []types.Instance {
	out := []types.Instance{}
	ds.state.Instances.Range(func(_ string, i types.Instance) bool {
		if i.Owner == owner {
			out = append(out, i)
		}
		return true
	})
	return out
}

func (ds *DataStore) applyInstanceRequest(req InstanceRequest) error {
	unlock := ds.lock()
	defer unlock()

	switch req.Op {
	case "create":
		if req.Instance == nil {
			return ferrors.New(ferrors.InvalidInput, "state.applyInstanceRequest", "instance is required")
		}
		now := time.Now()
		req.Instance.CreatedAt = now
		req.Instance.UpdatedAt = now
		ds.state.Instances.Add(ds.nodeID, req.Instance.InstanceID, *req.Instance)
		if err := ds.store.CreateInstance(req.Instance); err != nil {
			return err
		}
		ds.broadcast("instance/create", InstanceRequest{Op: "create", Instance: req.Instance})
		return nil
	case "update":
		if req.Instance == nil {
			return ferrors.New(ferrors.InvalidInput, "state.applyInstanceRequest", "instance is required")
		}
		existing, ok := ds.state.Instances.Get(req.Instance.InstanceID)
		if !ok {
			return ferrors.New(ferrors.NotFound, "state.applyInstanceRequest", fmt.Sprintf("instance %q not found", req.Instance.InstanceID))
		}
		existing.Status = req.Instance.Status
		existing.FailedReason = req.Instance.FailedReason
		existing.UpdatedAt = time.Now()
		ds.state.Instances.Add(ds.nodeID, existing.InstanceID, existing)
		if err := ds.store.UpdateInstance(&existing); err != nil {
			return err
		}
		ds.broadcast("instance/update", InstanceRequest{Op: "update", Instance: &existing})
		return nil
	case "delete":
		ds.state.Instances.Rm(ds.nodeID, req.ID)
		if err := ds.store.DeleteInstance(req.ID); err != nil {
			return err
		}
		ds.broadcast("instance/delete", InstanceRequest{Op: "delete", ID: req.ID})
		return nil
	default:
		return ferrors.New(ferrors.InvalidInput, "state.applyInstanceRequest", fmt.Sprintf("unknown instance op %q", req.Op))
	}
}

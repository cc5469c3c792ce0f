package state

import (
	"fmt"
	"time"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/types"
)

// CreateAgent enqueues and applies a new deployable agent template.
func (ds *DataStore) CreateAgent(a *types.Agent) (*types.Agent, error) {
	if _, err := ds.Enqueue(queue.SubtopicStateAgentRequest, AgentRequest{Op: "create", Agent: a}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	v, ok := ds.state.Agents.Get(a.AgentID)
	if !ok {
		return nil, ferrors.New(ferrors.Internal, "state.CreateAgent", "agent was not applied")
	}
	return &v, nil
}

// GetAgent returns a live agent by id.
func (ds *DataStore) GetAgent(id string) (*types.Agent, bool) {
	v, ok := ds.state.Agents.Get(id)
	if !ok {
		return nil, false
	}
	return &v, true
}

// ListAgents returns every live agent template.
func (ds *DataStore) ListAgents() []types.Agent {
	out := make([]types.Agent, 0, ds.state.Agents.Len())
	ds.state.Agents.Range(func(_ string, a types.Agent) bool {
		out = append(out, a)
		return true
	})
	return out
}

// UpdateAgent enqueues and applies a deployment-count bump and metadata
// merge against an existing agent, the path the build engine uses to
// stamp instance_id onto the agent a completed build belongs to.
func (ds *DataStore) UpdateAgent(a *types.Agent) (*types.Agent, error) {
	if _, err := ds.Enqueue(queue.SubtopicStateAgentRequest, AgentRequest{Op: "update", Agent: a}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	v, ok := ds.state.Agents.Get(a.AgentID)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.UpdateAgent", fmt.Sprintf("agent %q not found", a.AgentID))
	}
	return &v, nil
}

// GetAgentByBuildID returns the live agent whose metadata["build_id"]
// matches buildID, the lookup the build engine needs to update the
// agent a completed build belongs to without threading its id through
// the queue, mirroring form-pack/src/manager.rs's
// "/agent/by_build_id/{id}" lookup.
func (ds *DataStore) GetAgentByBuildID(buildID string) (*types.Agent, bool) {
	var found *types.Agent
	ds.state.Agents.Range(func(_ string, a types.Agent) bool {
		if a.Metadata["build_id"] == buildID {
			cp := a
			found = &cp
			return false
		}
		return true
	})
	return found, found != nil
}

func (ds *DataStore) applyAgentRequest(req AgentRequest) error {
	unlock := ds.lock()
	defer unlock()

	switch req.Op {
	case "create":
		if req.Agent == nil {
			return ferrors.New(ferrors.InvalidInput, "state.applyAgentRequest", "agent is required")
		}
		now := time.Now()
		req.Agent.CreatedAt = now
		req.Agent.UpdatedAt = now
		ds.state.Agents.Add(ds.nodeID, req.Agent.AgentID, *req.Agent)
		if err := ds.store.CreateAgent(req.Agent); err != nil {
			return err
		}
		ds.broadcast("agent/create", AgentRequest{Op: "create", Agent: req.Agent})
		return nil
	case "update":
		if req.Agent == nil {
			return ferrors.New(ferrors.InvalidInput, "state.applyAgentRequest", "agent is required")
		}
		existing, ok := ds.state.Agents.Get(req.Agent.AgentID)
		if !ok {
			return ferrors.New(ferrors.NotFound, "state.applyAgentRequest", fmt.Sprintf("agent %q not found", req.Agent.AgentID))
		}
		existing.DeploymentCount++
		if len(req.Agent.Metadata) > 0 {
			if existing.Metadata == nil {
				existing.Metadata = map[string]string{}
			}
			for k, v := range req.Agent.Metadata {
				existing.Metadata[k] = v
			}
		}
		existing.UpdatedAt = time.Now()
		ds.state.Agents.Add(ds.nodeID, existing.AgentID, existing)
		if err := ds.store.UpdateAgent(&existing); err != nil {
			return err
		}
		ds.broadcast("agent/update", AgentRequest{Op: "update", Agent: &existing})
		return nil
	case "delete":
		ds.state.Agents.Rm(ds.nodeID, req.ID)
		if err := ds.store.DeleteAgent(req.ID); err != nil {
			return err
		}
		ds.broadcast("agent/delete", AgentRequest{Op: "delete", ID: req.ID})
		return nil
	default:
		return ferrors.New(ferrors.InvalidInput, "state.applyAgentRequest", fmt.Sprintf("unknown agent op %q", req.Op))
	}
}

// CreateOrUpdateAccount enqueues and applies an account upsert, adding
// instanceID to the owner's set if provided.
func (ds *DataStore) CreateOrUpdateAccount(owner string, instanceID string) (*types.Account, error) {
	existing, ok := ds.state.Accounts.Get(owner)
	if !ok {
		existing = types.Account{Owner: owner, InstanceIDs: map[string]bool{}}
	}
	if instanceID != "" {
		if existing.InstanceIDs == nil {
			existing.InstanceIDs = map[string]bool{}
		}
		existing.InstanceIDs[instanceID] = true
	}
	if _, err := ds.Enqueue(queue.SubtopicStateAccountRequest, AccountRequest{Op: "upsert", Account: &existing}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	v, ok := ds.state.Accounts.Get(owner)
	if !ok {
		return nil, ferrors.New(ferrors.Internal, "state.CreateOrUpdateAccount", "account was not applied")
	}
	return &v, nil
}

// GetAccount returns a live account by owner address.
func (ds *DataStore) GetAccount(owner string) (*types.Account, bool) {
	v, ok := ds.state.Accounts.Get(owner)
	if !ok {
		return nil, false
	}
	return &v, true
}

// ListAccounts returns every live account.
func (ds *DataStore) ListAccounts() []types.Account {
	out := make([]types.Account, 0, ds.state.Accounts.Len())
	ds.state.Accounts.Range(func(_ string, a types.Account) bool {
		out = append(out, a)
		return true
	})
	return out
}

func (ds *DataStore) applyAccountRequest(req AccountRequest) error {
	unlock := ds.lock()
	defer unlock()

	if req.Account == nil {
		return ferrors.New(ferrors.InvalidInput, "state.applyAccountRequest", "account is required")
	}
	now := time.Now()
	if _, ok := ds.state.Accounts.Get(req.Account.Owner); !ok {
		req.Account.CreatedAt = now
	}
	req.Account.UpdatedAt = now
	ds.state.Accounts.Add(ds.nodeID, req.Account.Owner, *req.Account)
	if err := ds.store.CreateAccount(req.Account); err != nil {
		return err
	}
	ds.broadcast("account/update", AccountRequest{Op: "upsert", Account: req.Account})
	return nil
}

// Copyright 2018-2021 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package workflow

import (
	"context"
	"time"

	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/eventbus"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/nodes"
	"github.com/kindalus/antbox/pkg/permissions"
)

// ActionRunner executes one feature action against a working copy of the
// bound document. A failing action aborts the transition; the copy's
// property mutations are persisted only when every action succeeded.
type ActionRunner interface {
	Run(ctx context.Context, action string, working *node.Node) error
}

// Engine drives workflow instances over the node service. All engine-side
// persistence runs under a system context; caller permissions are checked
// against the instance and the bound document up front.
type Engine struct {
	svc    *nodes.Service
	runner ActionRunner
}

// NewEngine builds an engine. runner may be nil, in which case actions are
// skipped.
func NewEngine(svc *nodes.Service, runner ActionRunner) *Engine {
	return &Engine{svc: svc, runner: runner}
}

func (e *Engine) system(ctx context.Context) context.Context {
	return auth.ContextSet(ctx, auth.System(e.svc.Tenant()))
}

// Start binds a definition to a document: the document is gate-checked,
// locked with no unlock groups, and an instance node is created under the
// workflows folder carrying a snapshot of the definition.
func (e *Engine) Start(ctx context.Context, nodeID, definitionID string) (*Instance, error) {
	actx, ok := auth.ContextGet(ctx)
	if !ok {
		return nil, errtypes.Unauthorized("no authentication context")
	}
	if actx.IsAnonymous() {
		return nil, errtypes.Forbidden("anonymous principals cannot start workflows")
	}

	bound, err := e.svc.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if bound.WorkflowInstanceUUID != "" {
		return nil, errtypes.BadRequest("node " + bound.UUID + " is already bound to instance " + bound.WorkflowInstanceUUID)
	}

	defNode, err := e.svc.Get(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	def, err := DefinitionFrom(defNode)
	if err != nil {
		return nil, err
	}
	applies, err := def.gate(bound.Metadata())
	if err != nil {
		return nil, err
	}
	if !applies {
		return nil, errtypes.BadRequest("node " + bound.UUID + " does not satisfy the workflow filters")
	}

	sys := e.system(ctx)
	if _, err := e.svc.Lock(sys, bound.UUID, nil); err != nil {
		return nil, err
	}

	inst := &Instance{
		DefinitionUUID: def.UUID,
		NodeUUID:       bound.UUID,
		State:          def.initial(),
		Definition:     def,
		GroupsAllowed:  append([]string(nil), def.GroupsAllowed...),
		Owner:          actx.Principal.Email,
		StartedTime:    time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := inst.payload()
	if err != nil {
		e.rollbackStart(sys, bound.UUID, "")
		return nil, err
	}

	instNode, err := e.svc.Create(sys, map[string]interface{}{
		"mimetype": node.WorkflowInstanceMimetype,
		"title":    def.Title + ": " + bound.Title,
		"properties": map[string]interface{}{
			"instance": payload,
			"nodeUuid": bound.UUID,
			"state":    inst.State,
		},
	})
	if err != nil {
		e.rollbackStart(sys, bound.UUID, "")
		return nil, err
	}
	inst.UUID = instNode.UUID

	if _, err := e.svc.BindWorkflow(sys, bound.UUID, inst.UUID, inst.State); err != nil {
		e.rollbackStart(sys, bound.UUID, inst.UUID)
		return nil, err
	}

	if st, ok := def.state(inst.State); ok {
		if err := e.runActions(ctx, bound.Clone(), st.OnEnter); err != nil {
			e.rollbackStart(sys, bound.UUID, inst.UUID)
			return nil, err
		}
	}

	e.svc.Bus().Publish(eventbus.WorkflowStarted{
		Tenant:         e.svc.Tenant(),
		InstanceUUID:   inst.UUID,
		NodeUUID:       bound.UUID,
		DefinitionUUID: def.UUID,
	})
	return inst, nil
}

func (e *Engine) rollbackStart(sys context.Context, nodeUUID, instanceUUID string) {
	if instanceUUID != "" {
		_, _ = e.svc.UnbindWorkflow(sys, nodeUUID)
		_ = e.svc.Delete(sys, instanceUUID)
	}
	_, _ = e.svc.Unlock(sys, nodeUUID)
}

// Transition fires a signal. Guards run first, then the exit, transition and
// enter actions against a working copy; only a fully successful run is
// persisted, so a failed action leaves the instance in its prior state.
func (e *Engine) Transition(ctx context.Context, instanceID, signal string) (*Instance, error) {
	actx, ok := auth.ContextGet(ctx)
	if !ok {
		return nil, errtypes.Unauthorized("no authentication context")
	}

	instNode, err := e.svc.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	inst, err := instanceFrom(instNode)
	if err != nil {
		return nil, err
	}
	if inst.Final || inst.Cancelled {
		return nil, errtypes.BadRequest("instance " + inst.UUID + " is finished")
	}

	t, found := inst.Definition.transition(inst.State, signal)
	if !found {
		return nil, errtypes.BadRequest("no transition for signal " + signal + " in state " + inst.State)
	}
	if len(t.GroupsAllowed) > 0 && !permissions.IsAdmin(actx) && !actx.Principal.InAnyGroup(t.GroupsAllowed) {
		return nil, errtypes.Forbidden("signal " + signal + " is restricted")
	}

	bound, err := e.svc.Get(ctx, inst.NodeUUID)
	if err != nil {
		return nil, err
	}
	if t.Filters != "" {
		f, ferr := filter.Parse(t.Filters)
		if ferr != nil {
			return nil, ferr
		}
		if !filter.Matches(f, bound.Metadata()) {
			return nil, errtypes.BadRequest("transition guard for signal " + signal + " is not satisfied")
		}
	}

	working := bound.Clone()
	from := inst.State
	if st, ok := inst.Definition.state(from); ok {
		if err := e.runActions(ctx, working, st.OnExit); err != nil {
			return nil, err
		}
	}
	if err := e.runActions(ctx, working, t.Actions); err != nil {
		return nil, err
	}
	toState, _ := inst.Definition.state(t.To)
	if err := e.runActions(ctx, working, toState.OnEnter); err != nil {
		return nil, err
	}

	inst.State = t.To
	inst.Final = toState.Final
	inst.History = append(inst.History, HistoryEntry{
		From:   from,
		To:     t.To,
		Signal: signal,
		Actor:  actx.Principal.Email,
		At:     time.Now().UTC().Format(time.RFC3339),
	})

	sys := e.system(ctx)
	if err := e.persist(sys, inst, working); err != nil {
		return nil, err
	}

	if inst.Final {
		_, _ = e.svc.UnbindWorkflow(sys, bound.UUID)
		_, _ = e.svc.Unlock(sys, bound.UUID)
	} else if _, err := e.svc.SetWorkflowState(sys, bound.UUID, inst.State); err != nil {
		return nil, err
	}

	e.svc.Bus().Publish(eventbus.WorkflowTransitioned{
		Tenant:       e.svc.Tenant(),
		InstanceUUID: inst.UUID,
		Signal:       signal,
		FromState:    from,
		ToState:      inst.State,
		Final:        inst.Final,
	})
	return inst, nil
}

// Cancel aborts an instance. Only the bound document's owner and admins may
// cancel; the document is unbound and unlocked, the instance kept for audit.
func (e *Engine) Cancel(ctx context.Context, instanceID string) (*Instance, error) {
	actx, ok := auth.ContextGet(ctx)
	if !ok {
		return nil, errtypes.Unauthorized("no authentication context")
	}

	instNode, err := e.svc.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	inst, err := instanceFrom(instNode)
	if err != nil {
		return nil, err
	}
	if inst.Final || inst.Cancelled {
		return nil, errtypes.BadRequest("instance " + inst.UUID + " is finished")
	}

	sys := e.system(ctx)
	bound, err := e.svc.Get(sys, inst.NodeUUID)
	if err != nil {
		return nil, err
	}
	if !permissions.IsAdmin(actx) && actx.Principal.Email != bound.Owner {
		return nil, errtypes.Forbidden("only the document owner may cancel the workflow")
	}

	inst.Cancelled = true
	if err := e.persist(sys, inst, nil); err != nil {
		return nil, err
	}
	_, _ = e.svc.UnbindWorkflow(sys, bound.UUID)
	_, _ = e.svc.Unlock(sys, bound.UUID)

	e.svc.Bus().Publish(eventbus.WorkflowTransitioned{
		Tenant:       e.svc.Tenant(),
		InstanceUUID: inst.UUID,
		Signal:       "cancel",
		FromState:    inst.State,
		ToState:      inst.State,
		Final:        true,
	})
	return inst, nil
}

// Visible reports whether actx may see a running instance: the instance
// groups must be open or overlap the principal's, and the principal must be
// able to fire at least one transition from the current state. Admins and
// finished instances are exempt.
func (i *Instance) Visible(actx auth.Context) bool {
	if permissions.IsAdmin(actx) || !i.Running() {
		return true
	}
	if len(i.GroupsAllowed) > 0 && !actx.Principal.InAnyGroup(i.GroupsAllowed) {
		return false
	}
	for _, t := range i.Definition.Transitions {
		if t.From != i.State {
			continue
		}
		if len(t.GroupsAllowed) == 0 || actx.Principal.InAnyGroup(t.GroupsAllowed) {
			return true
		}
	}
	return false
}

// Instances lists the running instances the caller may see.
func (e *Engine) Instances(ctx context.Context) ([]*Instance, error) {
	actx, ok := auth.ContextGet(ctx)
	if !ok {
		return nil, errtypes.Unauthorized("no authentication context")
	}

	const pageSize = 100
	f := filter.From(filter.New("mimetype", filter.OpEqual, node.WorkflowInstanceMimetype))
	sys := e.system(ctx)

	out := []*Instance{}
	for token := 1; ; token++ {
		page, err := e.svc.Find(sys, f, pageSize, token)
		if err != nil {
			return nil, err
		}
		for _, n := range page.Nodes {
			inst, err := instanceFrom(n)
			if err != nil {
				continue
			}
			if inst.Running() && inst.Visible(actx) {
				out = append(out, inst)
			}
		}
		if len(page.Nodes) < pageSize {
			return out, nil
		}
	}
}

// persist writes the instance snapshot and, when the actions mutated the
// working copy, the document's properties.
func (e *Engine) persist(sys context.Context, inst *Instance, working *node.Node) error {
	payload, err := inst.payload()
	if err != nil {
		return err
	}
	_, err = e.svc.Update(sys, inst.UUID, map[string]interface{}{
		"properties": map[string]interface{}{
			"instance": payload,
			"state":    inst.State,
		},
	})
	if err != nil {
		return err
	}
	if working != nil && e.runner != nil {
		_, err = e.svc.Update(sys, working.UUID, map[string]interface{}{
			"properties": working.Properties,
		})
	}
	return err
}

func (e *Engine) runActions(ctx context.Context, working *node.Node, actions []string) error {
	if e.runner == nil {
		return nil
	}
	for _, action := range actions {
		if err := e.runner.Run(ctx, action, working); err != nil {
			return err
		}
	}
	return nil
}

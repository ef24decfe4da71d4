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

package nodes

import (
	"context"
	"time"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/eventbus"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/permissions"
)

// The workflow binding fields are immutable through patches; the engine
// mutates them through these admin-gated operations, running under a system
// context.

// BindWorkflow stamps the instance binding on a node.
func (s *Service) BindWorkflow(ctx context.Context, nodeUUID, instanceUUID, state string) (*node.Node, error) {
	return s.setWorkflowFields(ctx, nodeUUID, instanceUUID, state)
}

// SetWorkflowState advances the workflow state of a bound node.
func (s *Service) SetWorkflowState(ctx context.Context, nodeUUID, state string) (*node.Node, error) {
	n, err := s.repo.GetByUUID(ctx, nodeUUID)
	if err != nil {
		return nil, err
	}
	return s.setWorkflowFields(ctx, nodeUUID, n.WorkflowInstanceUUID, state)
}

// UnbindWorkflow clears the binding fields.
func (s *Service) UnbindWorkflow(ctx context.Context, nodeUUID string) (*node.Node, error) {
	return s.setWorkflowFields(ctx, nodeUUID, "", "")
}

func (s *Service) setWorkflowFields(ctx context.Context, nodeUUID, instanceUUID, state string) (*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !permissions.IsAdmin(actx) {
		return nil, errtypes.Forbidden("workflow bindings are engine-managed")
	}
	n, err := s.repo.GetByUUID(ctx, nodeUUID)
	if err != nil {
		return nil, err
	}

	n.WorkflowInstanceUUID = instanceUUID
	n.WorkflowState = state
	n.ModifiedTime = time.Now().UTC()
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}

	s.bus.Publish(eventbus.NodeUpdated{
		Tenant: s.tenant,
		UUID:   n.UUID,
		Changes: map[string]interface{}{
			"workflowInstanceUuid": instanceUUID,
			"workflowState":        state,
		},
		NewParent: n.Parent, PreviousParent: n.Parent,
	})
	return n, nil
}

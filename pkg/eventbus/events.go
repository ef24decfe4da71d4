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

package eventbus

import "github.com/kindalus/antbox/pkg/node"

// NodeCreated is published after a node has been durably added.
type NodeCreated struct {
	Tenant string
	Node   *node.Node
}

// NodeUpdated is published after a node update. It carries only the changed
// fields plus enough context for path-cache invalidation.
type NodeUpdated struct {
	Tenant         string
	UUID           string
	Changes        map[string]interface{}
	PreviousParent string
	NewParent      string
	TitleChanged   bool
}

// NodeDeleted is published per deleted node, carrying the full node.
type NodeDeleted struct {
	Tenant string
	Node   *node.Node
}

// UserCreated is published after a user node has been added.
type UserCreated struct {
	Tenant string
	Email  string
}

// UserDeleted is published after a user node has been removed.
type UserDeleted struct {
	Tenant string
	Email  string
}

// WorkflowStarted is published when an instance binds to a node.
type WorkflowStarted struct {
	Tenant         string
	InstanceUUID   string
	NodeUUID       string
	DefinitionUUID string
}

// WorkflowTransitioned is published after a successful transition.
type WorkflowTransitioned struct {
	Tenant       string
	InstanceUUID string
	Signal       string
	FromState    string
	ToState      string
	Final        bool
}

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

// Package workflow runs document state machines. A workflow definition is a
// node (mimetype workflow) describing states and guarded transitions; an
// instance is a node binding one definition snapshot to one document. A
// bound document is locked for the lifetime of its instance.
package workflow

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
)

// State is one vertex of the machine. Final states end the instance and
// release the document.
type State struct {
	Name    string   `mapstructure:"name" json:"name"`
	OnEnter []string `mapstructure:"onEnter" json:"onEnter,omitempty"`
	OnExit  []string `mapstructure:"onExit" json:"onExit,omitempty"`
	Final   bool     `mapstructure:"final" json:"final,omitempty"`
}

// Transition is one guarded edge. The filters guard evaluates against the
// bound document's metadata; the groups guard against the caller.
type Transition struct {
	From          string   `mapstructure:"from" json:"from"`
	To            string   `mapstructure:"to" json:"to"`
	Signal        string   `mapstructure:"signal" json:"signal"`
	GroupsAllowed []string `mapstructure:"groupsAllowed" json:"groupsAllowed,omitempty"`
	Filters       string   `mapstructure:"filters" json:"filters,omitempty"`
	Actions       []string `mapstructure:"actions" json:"actions,omitempty"`
}

// Definition is the parsed machine. Filters gate which documents the
// workflow may bind to.
type Definition struct {
	UUID          string       `json:"uuid"`
	Title         string       `json:"title"`
	InitialState  string       `json:"initialState"`
	States        []State      `json:"states"`
	Transitions   []Transition `json:"transitions"`
	Filters       string       `json:"filters,omitempty"`
	GroupsAllowed []string     `json:"groupsAllowed,omitempty"`
}

// HistoryEntry records one transition of an instance.
type HistoryEntry struct {
	From   string `mapstructure:"from" json:"from"`
	To     string `mapstructure:"to" json:"to"`
	Signal string `mapstructure:"signal" json:"signal"`
	Actor  string `mapstructure:"actor" json:"actor"`
	At     string `mapstructure:"at" json:"at"`
}

// Instance is the parsed runtime of one bound document. The definition is a
// snapshot: later edits to the definition node do not affect it.
type Instance struct {
	UUID           string         `json:"uuid"`
	DefinitionUUID string         `json:"definitionUuid"`
	NodeUUID       string         `json:"nodeUuid"`
	State          string         `json:"state"`
	Final          bool           `json:"final"`
	Cancelled      bool           `json:"cancelled"`
	History        []HistoryEntry `json:"history"`
	Definition     Definition     `json:"definition"`
	GroupsAllowed  []string       `json:"groupsAllowed,omitempty"`
	Owner          string         `json:"owner,omitempty"`
	StartedTime    string         `json:"startedTime,omitempty"`
}

// Running reports whether the instance still accepts signals.
func (i *Instance) Running() bool { return !i.Final && !i.Cancelled }

// DefinitionFrom parses a workflow definition node. States and transitions
// live in the generic properties map; the applicability gate is the node's
// filters field.
func DefinitionFrom(n *node.Node) (Definition, error) {
	if n.Mimetype != node.WorkflowMimetype {
		return Definition{}, errtypes.NodeType("node " + n.UUID + " is not a workflow")
	}

	def := Definition{
		UUID:  n.UUID,
		Title: n.Title,
	}
	if !n.Filters.IsEmpty() {
		def.Filters = filter.Format(n.Filters)
	}
	if v, ok := n.Properties["states"]; ok {
		if err := mapstructure.Decode(v, &def.States); err != nil {
			return Definition{}, errtypes.BadRequest("workflow " + n.UUID + ": malformed states: " + err.Error())
		}
	}
	if v, ok := n.Properties["transitions"]; ok {
		if err := mapstructure.Decode(v, &def.Transitions); err != nil {
			return Definition{}, errtypes.BadRequest("workflow " + n.UUID + ": malformed transitions: " + err.Error())
		}
	}
	if v, ok := n.Properties["initialState"].(string); ok {
		def.InitialState = v
	}
	if v, ok := n.Properties["groupsAllowed"]; ok {
		if err := mapstructure.Decode(v, &def.GroupsAllowed); err != nil {
			return Definition{}, errtypes.BadRequest("workflow " + n.UUID + ": malformed groupsAllowed: " + err.Error())
		}
	}
	return def, def.validate()
}

func (d Definition) validate() error {
	if len(d.States) == 0 {
		return errtypes.BadRequest("workflow " + d.UUID + " declares no states")
	}
	names := map[string]bool{}
	for _, s := range d.States {
		if s.Name == "" {
			return errtypes.BadRequest("workflow " + d.UUID + " has an unnamed state")
		}
		names[s.Name] = true
	}
	initial := d.initial()
	if !names[initial] {
		return errtypes.BadRequest("workflow " + d.UUID + ": unknown initial state " + initial)
	}
	for _, t := range d.Transitions {
		if !names[t.From] || !names[t.To] {
			return errtypes.BadRequest("workflow " + d.UUID + ": transition " + t.Signal + " references an unknown state")
		}
	}
	return nil
}

func (d Definition) initial() string {
	if d.InitialState != "" {
		return d.InitialState
	}
	return d.States[0].Name
}

func (d Definition) state(name string) (State, bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}

func (d Definition) transition(from, signal string) (Transition, bool) {
	for _, t := range d.Transitions {
		if t.From == from && t.Signal == signal {
			return t, true
		}
	}
	return Transition{}, false
}

// gate evaluates the definition's applicability filters against a document.
func (d Definition) gate(metadata map[string]interface{}) (bool, error) {
	if d.Filters == "" {
		return true, nil
	}
	f, err := filter.Parse(d.Filters)
	if err != nil {
		return false, err
	}
	return filter.Matches(f, metadata), nil
}

// instanceFrom parses an instance node: the snapshot is stored as JSON in a
// single property so that it survives metadata round-trips untouched.
func instanceFrom(n *node.Node) (*Instance, error) {
	if n.Mimetype != node.WorkflowInstanceMimetype {
		return nil, errtypes.NodeType("node " + n.UUID + " is not a workflow instance")
	}
	raw, ok := n.Properties["instance"].(string)
	if !ok {
		return nil, errtypes.BadRequest("workflow instance " + n.UUID + " has no payload")
	}
	inst := &Instance{}
	if err := json.Unmarshal([]byte(raw), inst); err != nil {
		return nil, errtypes.BadRequest("workflow instance " + n.UUID + ": malformed payload: " + err.Error())
	}
	inst.UUID = n.UUID
	return inst, nil
}

func (i *Instance) payload() (string, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BuiltinApproval is the canned two-stage approval machine: submit for
// manager review, escalate to finance, approve or bounce back to draft.
func BuiltinApproval() Definition {
	return Definition{
		Title:        "Approval",
		InitialState: "draft",
		States: []State{
			{Name: "draft"},
			{Name: "manager-review"},
			{Name: "finance-review"},
			{Name: "approved", Final: true},
		},
		Transitions: []Transition{
			{From: "draft", To: "manager-review", Signal: "submit"},
			{From: "manager-review", To: "finance-review", Signal: "approve"},
			{From: "manager-review", To: "draft", Signal: "reject"},
			{From: "finance-review", To: "approved", Signal: "approve"},
			{From: "finance-review", To: "draft", Signal: "reject"},
		},
	}
}

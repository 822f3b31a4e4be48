/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package xweb

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/model"
)

// ConflictPolicy decides how an element that targets several physical contexts is activated when it wins in
// some of them and loses in others.
type ConflictPolicy int

const (
	// WholeModel activates an element only if it wins in every physical context it targets, otherwise it is
	// parked everywhere.
	WholeModel ConflictPolicy = iota
	// PerContext decides every physical context independently.
	PerContext
)

func (p ConflictPolicy) String() string {
	if p == PerContext {
		return "perContext"
	}
	return "wholeModel"
}

// ParseConflictPolicy parses the configuration representation of a ConflictPolicy
func ParseConflictPolicy(value string) (ConflictPolicy, error) {
	switch strings.ToLower(value) {
	case "", "wholemodel":
		return WholeModel, nil
	case "percontext":
		return PerContext, nil
	}
	return WholeModel, fmt.Errorf("unknown conflict policy [%s], expected wholeModel or perContext", value)
}

// elementState is the registry's record of an element: the logical contexts it is currently bound to and the
// physical paths it is active in.
type elementState struct {
	model    model.ElementModel
	contexts []*model.OsgiContextModel
	active   []string
}

func (s *elementState) isActiveIn(path string) bool {
	return slices.Contains(s.active, path)
}

// ServerModel is the single source of truth for everything registered with the web runtime: physical contexts,
// logical contexts and all element models together with their enabled/disabled state.
//
// Planning methods only append changes to a batch. The model itself is mutated exclusively by visiting batches,
// ServerModel implements batch.Visitor for that purpose. exec serializes plan+apply+send rounds, lock guards the
// state against concurrent queries.
type ServerModel struct {
	exec          sync.Mutex
	lock          sync.Mutex
	policy        ConflictPolicy
	nextServiceID atomic.Int64

	servletContexts map[string]*model.ServletContextModel
	osgiContexts    map[string]*model.OsgiContextModel
	defaultContexts map[string]*model.OsgiContextModel
	elements        map[int64]*elementState
}

var _ batch.Visitor = &ServerModel{}

// NewServerModel creates an empty ServerModel
func NewServerModel(policy ConflictPolicy) *ServerModel {
	return &ServerModel{
		policy:          policy,
		servletContexts: map[string]*model.ServletContextModel{},
		osgiContexts:    map[string]*model.OsgiContextModel{},
		defaultContexts: map[string]*model.OsgiContextModel{},
		elements:        map[int64]*elementState{},
	}
}

// Policy returns the active ConflictPolicy
func (m *ServerModel) Policy() ConflictPolicy {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.policy
}

// SetPolicy changes the ConflictPolicy. Only allowed while nothing is registered.
func (m *ServerModel) SetPolicy(policy ConflictPolicy) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.elements) > 0 || len(m.osgiContexts) > 0 {
		return ErrModelNotEmpty
	}
	m.policy = policy
	return nil
}

// NextServiceID generates a service id for registrations that do not carry one
func (m *ServerModel) NextServiceID() int64 {
	return m.nextServiceID.Add(1)
}

func (m *ServerModel) reserveServiceID(id int64) {
	for {
		current := m.nextServiceID.Load()
		if id <= current || m.nextServiceID.CompareAndSwap(current, id) {
			return
		}
	}
}

// ServletContextModel returns the physical context for path or nil
func (m *ServerModel) ServletContextModel(path string) *model.ServletContextModel {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.servletContexts[path]
}

// ServletContextPaths returns all physical context paths, sorted
func (m *ServerModel) ServletContextPaths() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	var result []string
	for p := range m.servletContexts {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// OsgiContextModel returns the logical context with the given id or nil
func (m *ServerModel) OsgiContextModel(id string) *model.OsgiContextModel {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.osgiContexts[id]
}

// OsgiContextModels returns the logical contexts bound to path, best ranked first
func (m *ServerModel) OsgiContextModels(path string) []*model.OsgiContextModel {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.contextsOnPath(path)
}

// DefaultOsgiContextModel returns the best ranked logical context of path
func (m *ServerModel) DefaultOsgiContextModel(path string) *model.OsgiContextModel {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.defaultContexts[path]
}

// IsEnabled returns true if the element with the given service id is active in path
func (m *ServerModel) IsEnabled(serviceID int64, path string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if state, ok := m.elements[serviceID]; ok {
		return state.isActiveIn(path)
	}
	return false
}

// ActivePaths returns the physical paths the element is active in. The second value is false for unknown
// elements.
func (m *ServerModel) ActivePaths(serviceID int64) ([]string, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if state, ok := m.elements[serviceID]; ok {
		return append([]string(nil), state.active...), true
	}
	return nil, false
}

// Element returns the registered element with the given service id or nil
func (m *ServerModel) Element(serviceID int64) model.ElementModel {
	m.lock.Lock()
	defer m.lock.Unlock()
	if state, ok := m.elements[serviceID]; ok {
		return state.model
	}
	return nil
}

// Winner returns the element of the given kind holding key in path, or nil if the key is unoccupied
func (m *ServerModel) Winner(kind model.Kind, path, key string) model.ElementModel {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, state := range m.sortedStates(kind) {
		if state.isActiveIn(path) && slices.Contains(state.model.Keys(), key) {
			return state.model
		}
	}
	return nil
}

// ActiveElements returns the elements of kind active in path, best ranked first
func (m *ServerModel) ActiveElements(kind model.Kind, path string) []model.ElementModel {
	m.lock.Lock()
	defer m.lock.Unlock()
	var result []model.ElementModel
	for _, state := range m.sortedStates(kind) {
		if state.isActiveIn(path) {
			result = append(result, state.model)
		}
	}
	return result
}

// Elements returns every element registered by owner, ordered by kind and service id
func (m *ServerModel) Elements(owner model.Owner) []model.ElementModel {
	m.lock.Lock()
	defer m.lock.Unlock()
	var result []model.ElementModel
	for _, state := range m.statesOf(func(s *elementState) bool { return s.model.Base().Owner == owner }) {
		result = append(result, state.model)
	}
	return result
}

// IsClean returns true if no element and no logical context owned by owner remains in the model
func (m *ServerModel) IsClean(owner model.Owner) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, state := range m.elements {
		if state.model.Base().Owner == owner {
			return false
		}
	}
	for _, ctx := range m.osgiContexts {
		if ctx.Owner == owner {
			return false
		}
	}
	return true
}

// contextsOnPath returns the logical contexts bound to path, best ranked first. Lock must be held.
func (m *ServerModel) contextsOnPath(path string) []*model.OsgiContextModel {
	var result []*model.OsgiContextModel
	for _, ctx := range m.osgiContexts {
		if ctx.Path == path {
			result = append(result, ctx)
		}
	}
	model.SortByRanking(result)
	return result
}

// sortedStates returns the states of kind, best ranked first. Lock must be held.
func (m *ServerModel) sortedStates(kind model.Kind) []*elementState {
	var result []*elementState
	for _, state := range m.elements {
		if state.model.Kind() == kind {
			result = append(result, state)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].model.GetRanking().Outranks(result[j].model.GetRanking())
	})
	return result
}

// statesOf returns the matching states ordered by kind and service id. Lock must be held.
func (m *ServerModel) statesOf(filter func(s *elementState) bool) []*elementState {
	var result []*elementState
	for _, state := range m.elements {
		if filter(state) {
			result = append(result, state)
		}
	}
	sortStates(result)
	return result
}

func sortStates(states []*elementState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].model.Kind() != states[j].model.Kind() {
			return states[i].model.Kind() < states[j].model.Kind()
		}
		return states[i].model.Base().ServiceID < states[j].model.Base().ServiceID
	})
}

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
	"slices"
	"sort"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/model"
	"github.com/pkg/errors"
)

// plan is a hypothetical change of the element population. emit compares the resolution of the population after
// the plan with the current state and appends the difference to a batch.
type plan struct {
	add    []*elementState
	remove map[int64]bool
	detach map[int64][]*model.OsgiContextModel
}

func newPlan() *plan {
	return &plan{
		remove: map[int64]bool{},
		detach: map[int64][]*model.OsgiContextModel{},
	}
}

// candidate is an element taking part in one resolution round
type candidate struct {
	model    model.ElementModel
	state    *elementState
	contexts []*model.OsgiContextModel
	target   []string
}

// candidates returns the population of kind after the plan, best ranked first. Lock must be held.
func (p *plan) candidates(m *ServerModel, kind model.Kind) []*candidate {
	var result []*candidate
	for _, state := range m.sortedStates(kind) {
		id := state.model.Base().ServiceID
		if p.remove[id] {
			continue
		}
		contexts := state.contexts
		if detached := p.detach[id]; len(detached) > 0 {
			contexts = withoutContexts(contexts, detached)
		}
		result = append(result, &candidate{model: state.model, state: state, contexts: contexts})
	}
	for _, state := range p.add {
		if state.model.Kind() == kind {
			result = append(result, &candidate{model: state.model, contexts: state.contexts})
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].model.GetRanking().Outranks(result[j].model.GetRanking())
	})
	return result
}

// resolve assigns the physical paths every candidate is active in. Candidates must be ordered best ranked first.
// A candidate is active in a path if none of its keys is held there by a better ranked active candidate.
func resolve(candidates []*candidate, policy ConflictPolicy) {
	held := map[string]map[string]bool{}
	for _, c := range candidates {
		keys := c.model.Keys()
		paths := model.PathsOf(c.contexts)

		var won []string
		for _, path := range paths {
			occupied := false
			for _, key := range keys {
				if held[path][key] {
					occupied = true
					break
				}
			}
			if !occupied {
				won = append(won, path)
			}
		}
		if policy == WholeModel && len(won) != len(paths) {
			won = nil
		}

		for _, path := range won {
			if held[path] == nil {
				held[path] = map[string]bool{}
			}
			for _, key := range keys {
				held[path][key] = true
			}
		}
		c.target = won
	}
}

// emit appends the changes that move the model from its current state to the resolved state after p.
// Changes are ordered DISABLE, DELETE, DISASSOCIATE, ADD, ENABLE so a key is always vacated before it is taken
// again, then a FilterStateChange follows if any filter chain changed. Lock must be held.
func (m *ServerModel) emit(b *batch.Batch, p *plan) {
	var disables, deletes, disassociations, adds, enables []batch.Change
	var filterChange *batch.FilterStateChange

	for _, kind := range model.Kinds {
		candidates := p.candidates(m, kind)
		resolve(candidates, m.policy)

		for _, c := range candidates {
			if c.state == nil {
				adds = append(adds, batch.NewElementModelChange(c.model, batch.ElementChange{
					Op:       batch.OpAdd,
					Paths:    c.target,
					Contexts: c.contexts,
				}))
				continue
			}
			if lost := subtractPaths(c.state.active, c.target); len(lost) > 0 {
				disables = append(disables, batch.NewElementModelChange(c.model, batch.ElementChange{Op: batch.OpDisable, Paths: lost}))
			}
			for _, ctx := range p.detach[c.model.Base().ServiceID] {
				disassociations = append(disassociations, batch.NewElementModelChange(c.model, batch.ElementChange{Op: batch.OpDisassociate, Context: ctx}))
			}
			if gained := subtractPaths(c.target, c.state.active); len(gained) > 0 {
				enables = append(enables, batch.NewElementModelChange(c.model, batch.ElementChange{Op: batch.OpEnable, Paths: gained}))
			}
		}

		for _, state := range m.statesOf(func(s *elementState) bool { return s.model.Kind() == kind && p.remove[s.model.Base().ServiceID] }) {
			deletes = append(deletes, batch.NewElementModelChange(state.model, batch.ElementChange{
				Op:       batch.OpDelete,
				Paths:    append([]string(nil), state.active...),
				Contexts: append([]*model.OsgiContextModel(nil), state.contexts...),
			}))
		}

		if kind == model.KindFilter {
			filterChange = m.filterStateChange(candidates)
		}
	}

	b.Add(disables...)
	b.Add(deletes...)
	b.Add(disassociations...)
	b.Add(adds...)
	b.Add(enables...)
	if filterChange != nil {
		b.Add(filterChange)
	}
}

// filterStateChange compares the current filter chains with the ones after resolution and returns a change
// carrying the chains of every path that differs, or nil. Lock must be held.
func (m *ServerModel) filterStateChange(resolved []*candidate) *batch.FilterStateChange {
	previous := map[string][]*model.FilterModel{}
	for _, state := range m.sortedStates(model.KindFilter) {
		for _, path := range state.active {
			previous[path] = append(previous[path], state.model.(*model.FilterModel))
		}
	}
	current := map[string][]*model.FilterModel{}
	for _, c := range resolved {
		for _, path := range c.target {
			current[path] = append(current[path], c.model.(*model.FilterModel))
		}
	}

	result := &batch.FilterStateChange{
		Previous: map[string][]*model.FilterModel{},
		Current:  map[string][]*model.FilterModel{},
	}
	changed := false
	check := func(path string) {
		if _, done := result.Current[path]; done {
			return
		}
		if !slices.Equal(previous[path], current[path]) {
			result.Previous[path] = previous[path]
			result.Current[path] = current[path]
			changed = true
		}
	}
	for path := range previous {
		check(path)
	}
	for path := range current {
		check(path)
	}
	if !changed {
		return nil
	}
	return result
}

// addElement plans the registration of e. The element is validated, its contexts are replaced by the canonical
// logical contexts known to the model (or added earlier to b) and a service id is assigned if it has none.
func (m *ServerModel) addElement(b *batch.Batch, e model.ElementModel) error {
	if e == nil {
		return validationErrorf("element must not be nil")
	}
	if err := e.Validate(); err != nil {
		return &ValidationError{Reason: e.Kind().String() + " rejected", Err: err}
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	base := e.Base()
	var contexts []*model.OsgiContextModel
	for _, ctx := range base.Contexts {
		canonical := m.knownContext(b, ctx.ID())
		if canonical == nil {
			return validationErrorf("unknown context [%s] for %s", ctx.ID(), e)
		}
		if !slices.Contains(contexts, canonical) {
			contexts = append(contexts, canonical)
		}
	}
	base.Contexts = contexts

	if servlet, ok := e.(*model.ServletModel); ok {
		if err := m.checkNamespace(servlet); err != nil {
			return err
		}
	}

	if base.ServiceID == 0 {
		base.ServiceID = m.NextServiceID()
	} else if _, found := m.elements[base.ServiceID]; found {
		return validationErrorf("duplicate service id [%d] for %s", base.ServiceID, e)
	} else {
		m.reserveServiceID(base.ServiceID)
	}

	p := newPlan()
	p.add = append(p.add, &elementState{model: e, contexts: append([]*model.OsgiContextModel(nil), contexts...)})
	m.emit(b, p)

	pfxlog.Logger().WithField("owner", base.Owner).Debugf("planned addition of %s", e)
	return nil
}

// removeElement plans the removal of the element with the given service id, promoting parked alternates
func (m *ServerModel) removeElement(b *batch.Batch, serviceID int64) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, found := m.elements[serviceID]; !found {
		return errors.Wrapf(ErrNotRegistered, "element with service id [%d]", serviceID)
	}
	p := newPlan()
	p.remove[serviceID] = true
	m.emit(b, p)
	return nil
}

// AddElementModel plans the registration of e into b. Meant for Operations passed to Execute.
func (m *ServerModel) AddElementModel(b *batch.Batch, e model.ElementModel) error {
	return m.addElement(b, e)
}

// AddServletModel plans the registration of a servlet, parking it where it loses to a better ranked one
func (m *ServerModel) AddServletModel(b *batch.Batch, s *model.ServletModel) error {
	if s == nil {
		return validationErrorf("servlet must not be nil")
	}
	return m.addElement(b, s)
}

// AddFilterModel plans the registration of a filter and the filter chain changes it causes
func (m *ServerModel) AddFilterModel(b *batch.Batch, f *model.FilterModel) error {
	if f == nil {
		return validationErrorf("filter must not be nil")
	}
	return m.addElement(b, f)
}

// AddErrorPageModel plans the registration of an error page model
func (m *ServerModel) AddErrorPageModel(b *batch.Batch, ep *model.ErrorPageModel) error {
	if ep == nil {
		return validationErrorf("error page must not be nil")
	}
	return m.addElement(b, ep)
}

// RemoveElementModel plans the removal of the element with the given service id
func (m *ServerModel) RemoveElementModel(b *batch.Batch, serviceID int64) error {
	return m.removeElement(b, serviceID)
}

// AddOsgiContextModel plans the addition of a logical context and returns the instance the model will hold
func (m *ServerModel) AddOsgiContextModel(b *batch.Batch, ctx *model.OsgiContextModel) (*model.OsgiContextModel, error) {
	return m.addOsgiContextModel(b, ctx)
}

// RemoveOsgiContextModel plans the removal of a logical context, detaching the elements bound to it
func (m *ServerModel) RemoveOsgiContextModel(b *batch.Batch, id string) error {
	return m.removeOsgiContextModel(b, id)
}

// cleanBundle plans the removal of everything owner registered: its elements, its logical contexts and the
// physical contexts left without any logical context. Elements of other owners bound to a departing context
// are disassociated from it and re-resolved.
func (m *ServerModel) cleanBundle(b *batch.Batch, owner model.Owner) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var departing []*model.OsgiContextModel
	for _, ctx := range m.osgiContexts {
		if ctx.Owner == owner {
			departing = append(departing, ctx)
		}
	}

	p := newPlan()
	for id, state := range m.elements {
		if state.model.Base().Owner == owner {
			p.remove[id] = true
			continue
		}
		if detached := intersectContexts(state.contexts, departing); len(detached) > 0 {
			p.detach[id] = detached
		}
	}
	m.emit(b, p)
	m.planContextRemoval(b, departing)

	pfxlog.Logger().WithField("owner", owner).Debugf("planned cleanup of %d elements and %d contexts", len(p.remove), len(departing))
}

// checkNamespace rejects a servlet mapping a url pattern an alias reserves in one of the same physical contexts.
// The alias may belong to the servlet or to another one, active or parked. Lock must be held.
func (m *ServerModel) checkNamespace(servlet *model.ServletModel) error {
	paths := model.PathsOf(servlet.Contexts)
	for _, state := range m.statesOf(func(s *elementState) bool { return s.model.Kind() == model.KindServlet }) {
		other := state.model.(*model.ServletModel)
		var alias string
		switch {
		case other.Alias != "" && overlaps(servlet.URLPatterns, model.AliasToPatterns(other.Alias)):
			alias = other.Alias
		case servlet.Alias != "" && overlaps(model.AliasToPatterns(servlet.Alias), other.URLPatterns):
			alias = servlet.Alias
		default:
			continue
		}
		for _, path := range model.PathsOf(state.contexts) {
			if slices.Contains(paths, path) {
				return &NamespaceError{Alias: alias, Path: path, Owner: string(other.Owner)}
			}
		}
	}
	return nil
}

func overlaps(a, b []string) bool {
	for _, p := range a {
		if slices.Contains(b, p) {
			return true
		}
	}
	return false
}

func withoutContexts(contexts, removed []*model.OsgiContextModel) []*model.OsgiContextModel {
	var result []*model.OsgiContextModel
	for _, ctx := range contexts {
		if !slices.Contains(removed, ctx) {
			result = append(result, ctx)
		}
	}
	return result
}

func intersectContexts(contexts, other []*model.OsgiContextModel) []*model.OsgiContextModel {
	var result []*model.OsgiContextModel
	for _, ctx := range contexts {
		if slices.Contains(other, ctx) {
			result = append(result, ctx)
		}
	}
	return result
}

// subtractPaths returns the paths of a that are not in b
func subtractPaths(a, b []string) []string {
	var result []string
	for _, p := range a {
		if !slices.Contains(b, p) {
			result = append(result, p)
		}
	}
	return result
}

func unionPaths(a, b []string) []string {
	result := append([]string(nil), a...)
	for _, p := range b {
		if !slices.Contains(result, p) {
			result = append(result, p)
		}
	}
	sort.Strings(result)
	return result
}

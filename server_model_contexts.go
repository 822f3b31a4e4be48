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
	"sort"

	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/model"
	"github.com/pkg/errors"
)

// getOrCreateServletContextModel returns the physical context for path, scheduling its addition if neither the
// model nor b has it yet. Lock must be held.
func (m *ServerModel) getOrCreateServletContextModel(b *batch.Batch, path string) *model.ServletContextModel {
	if scm := b.ServletContextModel(path); scm != nil {
		return scm
	}
	if scm, found := m.servletContexts[path]; found {
		return scm
	}
	scm := &model.ServletContextModel{Path: path}
	b.Add(&batch.ServletContextModelChange{Op: batch.OpAdd, Model: scm})
	return scm
}

// getOrCreateOsgiContextModel returns the logical context owner uses for wctx. An empty path accepts the
// existing binding of the context or binds a new one to "/".
func (m *ServerModel) getOrCreateOsgiContextModel(b *batch.Batch, wctx model.WebContainerContext, owner model.Owner, path string) (*model.OsgiContextModel, error) {
	if wctx == nil {
		return nil, validationErrorf("web container context must not be nil")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	id := model.ContextID(wctx.ContextID(), owner, wctx.Shared())
	if existing := m.knownContext(b, id); existing != nil {
		if path != "" && existing.Path != path {
			return nil, validationErrorf("context [%s] is already bound to [%s], cannot bind it to [%s]", id, existing.Path, path)
		}
		return existing, nil
	}

	if path == "" {
		path = "/"
	}
	ctx := &model.OsgiContextModel{
		Name:    wctx.ContextID(),
		Owner:   owner,
		Path:    path,
		Context: wctx,
		Shared:  wctx.Shared(),
	}
	if err := ctx.Validate(); err != nil {
		return nil, &ValidationError{Reason: "context rejected", Err: err}
	}
	return m.planContextAddition(b, ctx)
}

// addOsgiContextModel plans the addition of a fully described logical context. Adding a context that is already
// known with the same path returns the known instance.
func (m *ServerModel) addOsgiContextModel(b *batch.Batch, ctx *model.OsgiContextModel) (*model.OsgiContextModel, error) {
	if ctx == nil {
		return nil, validationErrorf("context must not be nil")
	}
	if err := ctx.Validate(); err != nil {
		return nil, &ValidationError{Reason: "context rejected", Err: err}
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if existing := m.knownContext(b, ctx.ID()); existing != nil {
		if existing.Path != ctx.Path {
			return nil, validationErrorf("context [%s] is already bound to [%s], cannot bind it to [%s]", ctx.ID(), existing.Path, ctx.Path)
		}
		return existing, nil
	}
	return m.planContextAddition(b, ctx)
}

// removeOsgiContextModel plans the removal of a logical context. Elements bound to it are disassociated and
// re-resolved, elements left without any context stay registered but inactive.
func (m *ServerModel) removeOsgiContextModel(b *batch.Batch, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	ctx, found := m.osgiContexts[id]
	if !found {
		return errors.Wrapf(ErrNotRegistered, "context [%s]", id)
	}

	p := newPlan()
	departing := []*model.OsgiContextModel{ctx}
	for serviceID, state := range m.elements {
		if detached := intersectContexts(state.contexts, departing); len(detached) > 0 {
			p.detach[serviceID] = detached
		}
	}
	m.emit(b, p)
	m.planContextRemoval(b, departing)
	return nil
}

// planContextAddition schedules the addition of ctx together with its physical context, and makes it the default
// context of its path if it outranks the current one. Lock must be held.
func (m *ServerModel) planContextAddition(b *batch.Batch, ctx *model.OsgiContextModel) (*model.OsgiContextModel, error) {
	if ctx.ServiceID == 0 {
		ctx.ServiceID = m.NextServiceID()
	} else {
		m.reserveServiceID(ctx.ServiceID)
	}

	m.getOrCreateServletContextModel(b, ctx.Path)
	b.Add(&batch.OsgiContextModelChange{Op: batch.OpAdd, Model: ctx})

	current := m.defaultContext(b, ctx.Path)
	if current == nil || ctx.GetRanking().Outranks(current.GetRanking()) {
		if current != nil {
			b.Add(&batch.OsgiContextModelChange{Op: batch.OpDisable, Model: current})
		}
		b.Add(&batch.OsgiContextModelChange{Op: batch.OpEnable, Model: ctx})
	}
	return ctx, nil
}

// planContextRemoval schedules the deletion of the departing logical contexts. A path that keeps other logical
// contexts gets a new default if its default departed, a path left empty loses its physical context.
// Lock must be held.
func (m *ServerModel) planContextRemoval(b *batch.Batch, departing []*model.OsgiContextModel) {
	byPath := map[string][]*model.OsgiContextModel{}
	for _, ctx := range departing {
		byPath[ctx.Path] = append(byPath[ctx.Path], ctx)
	}
	var paths []string
	for path := range byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		contexts := byPath[path]
		sort.Slice(contexts, func(i, j int) bool { return contexts[i].ID() < contexts[j].ID() })

		previousDefault := m.defaultContext(b, path)
		defaultDeparted := false
		for _, ctx := range contexts {
			if ctx == previousDefault {
				b.Add(&batch.OsgiContextModelChange{Op: batch.OpDisable, Model: ctx})
				defaultDeparted = true
			}
			b.Add(&batch.OsgiContextModelChange{Op: batch.OpDelete, Model: ctx})
		}

		remaining := m.contextsAt(b, path)
		if len(remaining) == 0 {
			if scm := m.getServletContextModel(b, path); scm != nil {
				b.Add(&batch.ServletContextModelChange{Op: batch.OpDelete, Model: scm})
			}
		} else if defaultDeparted || previousDefault == nil {
			b.Add(&batch.OsgiContextModelChange{Op: batch.OpEnable, Model: remaining[0]})
		}
	}
}

// knownContext looks a logical context up in b first, then in the model. Lock must be held.
func (m *ServerModel) knownContext(b *batch.Batch, id string) *model.OsgiContextModel {
	if ctx := b.OsgiContextModel(id); ctx != nil {
		return ctx
	}
	if ctx, found := m.osgiContexts[id]; found && !deletedIn(b, ctx) {
		return ctx
	}
	return nil
}

func (m *ServerModel) getServletContextModel(b *batch.Batch, path string) *model.ServletContextModel {
	if scm := b.ServletContextModel(path); scm != nil {
		return scm
	}
	return m.servletContexts[path]
}

// defaultContext returns the default logical context of path as it will be after b. Lock must be held.
func (m *ServerModel) defaultContext(b *batch.Batch, path string) *model.OsgiContextModel {
	result := m.defaultContexts[path]
	for _, c := range b.Changes() {
		occ, ok := c.(*batch.OsgiContextModelChange)
		if !ok || occ.Model.Path != path {
			continue
		}
		switch occ.Op {
		case batch.OpEnable:
			result = occ.Model
		case batch.OpDisable, batch.OpDelete:
			if result == occ.Model {
				result = nil
			}
		}
	}
	return result
}

// contextsAt returns the logical contexts bound to path as they will be after b, best ranked first.
// Lock must be held.
func (m *ServerModel) contextsAt(b *batch.Batch, path string) []*model.OsgiContextModel {
	byID := map[string]*model.OsgiContextModel{}
	for _, ctx := range m.contextsOnPath(path) {
		byID[ctx.ID()] = ctx
	}
	for _, c := range b.Changes() {
		occ, ok := c.(*batch.OsgiContextModelChange)
		if !ok || occ.Model.Path != path {
			continue
		}
		switch occ.Op {
		case batch.OpAdd:
			byID[occ.Model.ID()] = occ.Model
		case batch.OpDelete:
			delete(byID, occ.Model.ID())
		}
	}
	var result []*model.OsgiContextModel
	for _, ctx := range byID {
		result = append(result, ctx)
	}
	model.SortByRanking(result)
	return result
}

func deletedIn(b *batch.Batch, ctx *model.OsgiContextModel) bool {
	deleted := false
	for _, c := range b.Changes() {
		if occ, ok := c.(*batch.OsgiContextModelChange); ok && occ.Model == ctx {
			switch occ.Op {
			case batch.OpDelete:
				deleted = true
			case batch.OpAdd:
				deleted = false
			}
		}
	}
	return deleted
}

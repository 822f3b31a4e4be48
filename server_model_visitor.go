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

	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/model"
	"github.com/pkg/errors"
)

func (m *ServerModel) VisitServletContextModelChange(c *batch.ServletContextModelChange) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	path := c.Model.Path
	switch c.Op {
	case batch.OpAdd:
		if _, found := m.servletContexts[path]; found {
			return errors.Errorf("servlet context [%s] already exists", path)
		}
		m.servletContexts[path] = c.Model
	case batch.OpDelete:
		if _, found := m.servletContexts[path]; !found {
			return errors.Errorf("servlet context [%s] does not exist", path)
		}
		delete(m.servletContexts, path)
	default:
		return errors.Errorf("unsupported change %s", c)
	}
	return nil
}

func (m *ServerModel) VisitOsgiContextModelChange(c *batch.OsgiContextModelChange) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	id := c.Model.ID()
	path := c.Model.Path
	switch c.Op {
	case batch.OpAdd:
		if _, found := m.osgiContexts[id]; found {
			return errors.Errorf("context [%s] already exists", id)
		}
		m.osgiContexts[id] = c.Model
	case batch.OpDelete:
		if _, found := m.osgiContexts[id]; !found {
			return errors.Errorf("context [%s] does not exist", id)
		}
		delete(m.osgiContexts, id)
		if m.defaultContexts[path] == c.Model {
			delete(m.defaultContexts, path)
		}
	case batch.OpEnable:
		m.defaultContexts[path] = c.Model
	case batch.OpDisable:
		if m.defaultContexts[path] == c.Model {
			delete(m.defaultContexts, path)
		}
	default:
		return errors.Errorf("unsupported change %s", c)
	}
	return nil
}

func (m *ServerModel) VisitServletModelChange(c *batch.ServletModelChange) error {
	return m.visitElement(c)
}

func (m *ServerModel) VisitFilterModelChange(c *batch.FilterModelChange) error {
	return m.visitElement(c)
}

// VisitFilterStateChange has nothing to do, filter chains are derived from the active filters.
func (m *ServerModel) VisitFilterStateChange(*batch.FilterStateChange) error {
	return nil
}

func (m *ServerModel) VisitErrorPageModelChange(c *batch.ErrorPageModelChange) error {
	return m.visitElement(c)
}

func (m *ServerModel) VisitEventListenerModelChange(c *batch.EventListenerModelChange) error {
	return m.visitElement(c)
}

func (m *ServerModel) VisitWelcomeFileModelChange(c *batch.WelcomeFileModelChange) error {
	return m.visitElement(c)
}

func (m *ServerModel) VisitContainerInitializerModelChange(c *batch.ContainerInitializerModelChange) error {
	return m.visitElement(c)
}

func (m *ServerModel) VisitWebSocketModelChange(c *batch.WebSocketModelChange) error {
	return m.visitElement(c)
}

func (m *ServerModel) VisitSecurityConstraintModelChange(c *batch.SecurityConstraintModelChange) error {
	return m.visitElement(c)
}

func (m *ServerModel) visitElement(c batch.ElementModelChange) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	ec := c.Element()
	em := c.ElementModel()
	id := em.Base().ServiceID

	if ec.Op == batch.OpAdd {
		if _, found := m.elements[id]; found {
			return errors.Errorf("element with service id [%d] already exists", id)
		}
		// contexts come from the change only, an element may have lost all of them since it was registered
		m.elements[id] = &elementState{
			model:    em,
			contexts: append([]*model.OsgiContextModel(nil), ec.Contexts...),
			active:   append([]string(nil), ec.Paths...),
		}
		m.reserveServiceID(id)
		return nil
	}

	state, found := m.elements[id]
	if !found {
		return errors.Errorf("element with service id [%d] does not exist, cannot apply %s", id, c)
	}

	switch ec.Op {
	case batch.OpDelete:
		delete(m.elements, id)
	case batch.OpEnable:
		state.active = unionPaths(state.active, ec.Paths)
	case batch.OpDisable:
		state.active = subtractPaths(state.active, ec.Paths)
	case batch.OpAssociate:
		if ec.Context != nil && !slices.Contains(state.contexts, ec.Context) {
			state.contexts = append(state.contexts, ec.Context)
		}
	case batch.OpDisassociate:
		state.contexts = withoutContexts(state.contexts, []*model.OsgiContextModel{ec.Context})
	default:
		return errors.Errorf("unsupported change %s", c)
	}
	return nil
}

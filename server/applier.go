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

package server

import (
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/model"
	"github.com/pkg/errors"
)

// applier pushes batch changes into the live context handlers of a Demux
type applier struct {
	demux *Demux
}

var _ batch.Visitor = &applier{}

func (a *applier) VisitServletContextModelChange(c *batch.ServletContextModelChange) error {
	switch c.Op {
	case batch.OpAdd:
		return a.demux.add(newContextHandler(c.Model.Path))
	case batch.OpDelete:
		handler := a.demux.remove(c.Model.Path)
		if handler == nil {
			return errors.Errorf("no context at path [%s]", c.Model.Path)
		}
		handler.destroy()
	}
	return nil
}

func (a *applier) VisitOsgiContextModelChange(c *batch.OsgiContextModelChange) error {
	switch c.Op {
	case batch.OpEnable:
		handler, err := a.handler(c.Model.Path)
		if err != nil {
			return err
		}
		handler.setDefaultContext(c.Model)
	case batch.OpDisable, batch.OpDelete:
		if handler := a.demux.get(c.Model.Path); handler != nil {
			handler.clearDefaultContext(c.Model)
		}
	}
	return nil
}

func (a *applier) VisitFilterStateChange(c *batch.FilterStateChange) error {
	for _, path := range c.Paths() {
		chain := c.Current[path]
		handler := a.demux.get(path)
		if handler == nil {
			if len(chain) == 0 {
				continue
			}
			return errors.Errorf("no context at path [%s] for filter chain", path)
		}
		handler.setFilterChain(chain)
	}
	return nil
}

func (a *applier) VisitServletModelChange(c *batch.ServletModelChange) error {
	return a.visitElement(c)
}

func (a *applier) VisitFilterModelChange(c *batch.FilterModelChange) error {
	return a.visitElement(c)
}

func (a *applier) VisitErrorPageModelChange(c *batch.ErrorPageModelChange) error {
	return a.visitElement(c)
}

func (a *applier) VisitEventListenerModelChange(c *batch.EventListenerModelChange) error {
	return a.visitElement(c)
}

func (a *applier) VisitWelcomeFileModelChange(c *batch.WelcomeFileModelChange) error {
	return a.visitElement(c)
}

func (a *applier) VisitContainerInitializerModelChange(c *batch.ContainerInitializerModelChange) error {
	return a.visitElement(c)
}

func (a *applier) VisitWebSocketModelChange(c *batch.WebSocketModelChange) error {
	return a.visitElement(c)
}

func (a *applier) VisitSecurityConstraintModelChange(c *batch.SecurityConstraintModelChange) error {
	return a.visitElement(c)
}

// visitElement installs an element into the paths it becomes active in and removes it from the paths it stops
// being active in. Associations only matter to the model.
func (a *applier) visitElement(c batch.ElementModelChange) error {
	ec := c.Element()
	e := c.ElementModel()

	switch ec.Op {
	case batch.OpAdd, batch.OpEnable:
		var installed []*contextHandler
		for _, path := range ec.Paths {
			handler, err := a.handler(path)
			if err == nil {
				err = handler.install(e)
			}
			if err != nil {
				// a change is applied completely or not at all
				for _, h := range installed {
					h.uninstall(e)
				}
				return err
			}
			installed = append(installed, handler)
		}
	case batch.OpDelete, batch.OpDisable:
		for _, path := range ec.Paths {
			if handler := a.demux.get(path); handler != nil {
				handler.uninstall(e)
			} else {
				pfxlog.Logger().WithField("serviceId", e.Base().ServiceID).Debugf("no context at path [%s] to remove element from", path)
			}
		}
	}
	return nil
}

func (a *applier) handler(path string) (*contextHandler, error) {
	if handler := a.demux.get(path); handler != nil {
		return handler, nil
	}
	return nil, errors.Errorf("no context at path [%s]", path)
}

// elementsOf lists the elements installed in handler, used by tests and diagnostics
func elementsOf(handler *contextHandler) []model.ElementModel {
	handler.lock.RLock()
	defer handler.lock.RUnlock()

	var result []model.ElementModel
	for _, s := range handler.servlets {
		result = append(result, s)
	}
	for _, l := range handler.listeners {
		result = append(result, l)
	}
	for _, i := range handler.initializers {
		result = append(result, i)
	}
	model.SortByRanking(result)
	return result
}

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

package batch

import (
	"fmt"

	"github.com/openziti/xweb-registry/model"
)

// ElementChange is the state common to all element model changes.
//
// Paths are the physical context paths the operation applies to: for ADD the paths the element is active in
// (empty means it is added disabled), for DELETE the paths it was active in when removed, for ENABLE/DISABLE the
// paths gained or lost. Contexts are the logical contexts the element is bound to when it is added or deleted, an ADD binds
// exactly these even when empty. Context is only set for ASSOCIATE/DISASSOCIATE.
type ElementChange struct {
	Op       OpCode
	Paths    []string
	Contexts []*model.OsgiContextModel
	Context  *model.OsgiContextModel
}

func (c *ElementChange) Kind() OpCode {
	return c.Op
}

// Disabled returns true for an ADD that parks the element without activating it anywhere
func (c *ElementChange) Disabled() bool {
	return c.Op == OpAdd && len(c.Paths) == 0
}

func (c *ElementChange) inverse() (ElementChange, bool) {
	op, ok := c.Op.Inverse()
	if !ok || op == OpModify {
		return ElementChange{}, false
	}
	return ElementChange{Op: op, Paths: c.Paths, Contexts: c.Contexts, Context: c.Context}, true
}

func (c *ElementChange) describe(m model.ElementModel) string {
	if c.Context != nil {
		return fmt.Sprintf("%s{%s,%s}", m.Kind(), c.Op, c.Context.ID())
	}
	return fmt.Sprintf("%s{%s,%d,%v}", m.Kind(), c.Op, m.Base().ServiceID, c.Paths)
}

// ElementModelChange is implemented by every change that targets an element model
type ElementModelChange interface {
	Change
	Element() *ElementChange
	ElementModel() model.ElementModel
}

// NewElementModelChange creates the concrete change type for m
func NewElementModelChange(m model.ElementModel, ec ElementChange) ElementModelChange {
	switch typed := m.(type) {
	case *model.ServletModel:
		return &ServletModelChange{ElementChange: ec, Model: typed}
	case *model.FilterModel:
		return &FilterModelChange{ElementChange: ec, Model: typed}
	case *model.ErrorPageModel:
		return &ErrorPageModelChange{ElementChange: ec, Model: typed}
	case *model.EventListenerModel:
		return &EventListenerModelChange{ElementChange: ec, Model: typed}
	case *model.WelcomeFileModel:
		return &WelcomeFileModelChange{ElementChange: ec, Model: typed}
	case *model.ContainerInitializerModel:
		return &ContainerInitializerModelChange{ElementChange: ec, Model: typed}
	case *model.WebSocketModel:
		return &WebSocketModelChange{ElementChange: ec, Model: typed}
	case *model.SecurityConstraintModel:
		return &SecurityConstraintModelChange{ElementChange: ec, Model: typed}
	}
	panic(fmt.Sprintf("unsupported element model type %T", m))
}

type ServletModelChange struct {
	ElementChange
	Model *model.ServletModel
}

func (c *ServletModelChange) Accept(v Visitor) error { return v.VisitServletModelChange(c) }

func (c *ServletModelChange) Uninstall() Change {
	if inv, ok := c.inverse(); ok {
		return &ServletModelChange{ElementChange: inv, Model: c.Model}
	}
	return nil
}

func (c *ServletModelChange) Element() *ElementChange          { return &c.ElementChange }
func (c *ServletModelChange) ElementModel() model.ElementModel { return c.Model }
func (c *ServletModelChange) String() string                   { return c.describe(c.Model) }
func (c *ServletModelChange) sealed()                          {}

type FilterModelChange struct {
	ElementChange
	Model *model.FilterModel
}

func (c *FilterModelChange) Accept(v Visitor) error { return v.VisitFilterModelChange(c) }

func (c *FilterModelChange) Uninstall() Change {
	if inv, ok := c.inverse(); ok {
		return &FilterModelChange{ElementChange: inv, Model: c.Model}
	}
	return nil
}

func (c *FilterModelChange) Element() *ElementChange          { return &c.ElementChange }
func (c *FilterModelChange) ElementModel() model.ElementModel { return c.Model }
func (c *FilterModelChange) String() string                   { return c.describe(c.Model) }
func (c *FilterModelChange) sealed()                          {}

type ErrorPageModelChange struct {
	ElementChange
	Model *model.ErrorPageModel
}

func (c *ErrorPageModelChange) Accept(v Visitor) error { return v.VisitErrorPageModelChange(c) }

func (c *ErrorPageModelChange) Uninstall() Change {
	if inv, ok := c.inverse(); ok {
		return &ErrorPageModelChange{ElementChange: inv, Model: c.Model}
	}
	return nil
}

func (c *ErrorPageModelChange) Element() *ElementChange          { return &c.ElementChange }
func (c *ErrorPageModelChange) ElementModel() model.ElementModel { return c.Model }
func (c *ErrorPageModelChange) String() string                   { return c.describe(c.Model) }
func (c *ErrorPageModelChange) sealed()                          {}

type EventListenerModelChange struct {
	ElementChange
	Model *model.EventListenerModel
}

func (c *EventListenerModelChange) Accept(v Visitor) error { return v.VisitEventListenerModelChange(c) }

func (c *EventListenerModelChange) Uninstall() Change {
	if inv, ok := c.inverse(); ok {
		return &EventListenerModelChange{ElementChange: inv, Model: c.Model}
	}
	return nil
}

func (c *EventListenerModelChange) Element() *ElementChange          { return &c.ElementChange }
func (c *EventListenerModelChange) ElementModel() model.ElementModel { return c.Model }
func (c *EventListenerModelChange) String() string                   { return c.describe(c.Model) }
func (c *EventListenerModelChange) sealed()                          {}

type WelcomeFileModelChange struct {
	ElementChange
	Model *model.WelcomeFileModel
}

func (c *WelcomeFileModelChange) Accept(v Visitor) error { return v.VisitWelcomeFileModelChange(c) }

func (c *WelcomeFileModelChange) Uninstall() Change {
	if inv, ok := c.inverse(); ok {
		return &WelcomeFileModelChange{ElementChange: inv, Model: c.Model}
	}
	return nil
}

func (c *WelcomeFileModelChange) Element() *ElementChange          { return &c.ElementChange }
func (c *WelcomeFileModelChange) ElementModel() model.ElementModel { return c.Model }
func (c *WelcomeFileModelChange) String() string                   { return c.describe(c.Model) }
func (c *WelcomeFileModelChange) sealed()                          {}

type ContainerInitializerModelChange struct {
	ElementChange
	Model *model.ContainerInitializerModel
}

func (c *ContainerInitializerModelChange) Accept(v Visitor) error {
	return v.VisitContainerInitializerModelChange(c)
}

func (c *ContainerInitializerModelChange) Uninstall() Change {
	if inv, ok := c.inverse(); ok {
		return &ContainerInitializerModelChange{ElementChange: inv, Model: c.Model}
	}
	return nil
}

func (c *ContainerInitializerModelChange) Element() *ElementChange          { return &c.ElementChange }
func (c *ContainerInitializerModelChange) ElementModel() model.ElementModel { return c.Model }
func (c *ContainerInitializerModelChange) String() string                   { return c.describe(c.Model) }
func (c *ContainerInitializerModelChange) sealed()                          {}

type WebSocketModelChange struct {
	ElementChange
	Model *model.WebSocketModel
}

func (c *WebSocketModelChange) Accept(v Visitor) error { return v.VisitWebSocketModelChange(c) }

func (c *WebSocketModelChange) Uninstall() Change {
	if inv, ok := c.inverse(); ok {
		return &WebSocketModelChange{ElementChange: inv, Model: c.Model}
	}
	return nil
}

func (c *WebSocketModelChange) Element() *ElementChange          { return &c.ElementChange }
func (c *WebSocketModelChange) ElementModel() model.ElementModel { return c.Model }
func (c *WebSocketModelChange) String() string                   { return c.describe(c.Model) }
func (c *WebSocketModelChange) sealed()                          {}

type SecurityConstraintModelChange struct {
	ElementChange
	Model *model.SecurityConstraintModel
}

func (c *SecurityConstraintModelChange) Accept(v Visitor) error {
	return v.VisitSecurityConstraintModelChange(c)
}

func (c *SecurityConstraintModelChange) Uninstall() Change {
	if inv, ok := c.inverse(); ok {
		return &SecurityConstraintModelChange{ElementChange: inv, Model: c.Model}
	}
	return nil
}

func (c *SecurityConstraintModelChange) Element() *ElementChange          { return &c.ElementChange }
func (c *SecurityConstraintModelChange) ElementModel() model.ElementModel { return c.Model }
func (c *SecurityConstraintModelChange) String() string                   { return c.describe(c.Model) }
func (c *SecurityConstraintModelChange) sealed()                          {}

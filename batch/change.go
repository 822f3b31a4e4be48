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
	"sort"
	"strings"

	"github.com/openziti/xweb-registry/model"
)

// Change is a single primitive operation. The set of implementations is closed, Visitor has one method for
// each of them.
type Change interface {
	Kind() OpCode
	Accept(v Visitor) error
	// Uninstall returns the change that undoes this one or nil if there is none.
	Uninstall() Change
	String() string
	sealed()
}

// Visitor receives changes through double dispatch
type Visitor interface {
	VisitServletContextModelChange(c *ServletContextModelChange) error
	VisitOsgiContextModelChange(c *OsgiContextModelChange) error
	VisitServletModelChange(c *ServletModelChange) error
	VisitFilterModelChange(c *FilterModelChange) error
	VisitFilterStateChange(c *FilterStateChange) error
	VisitErrorPageModelChange(c *ErrorPageModelChange) error
	VisitEventListenerModelChange(c *EventListenerModelChange) error
	VisitWelcomeFileModelChange(c *WelcomeFileModelChange) error
	VisitContainerInitializerModelChange(c *ContainerInitializerModelChange) error
	VisitWebSocketModelChange(c *WebSocketModelChange) error
	VisitSecurityConstraintModelChange(c *SecurityConstraintModelChange) error
}

// ServletContextModelChange adds or deletes a physical context
type ServletContextModelChange struct {
	Op    OpCode
	Model *model.ServletContextModel
}

func (c *ServletContextModelChange) Kind() OpCode {
	return c.Op
}

func (c *ServletContextModelChange) Accept(v Visitor) error {
	return v.VisitServletContextModelChange(c)
}

// Uninstall of an ADD is a DELETE of the same path. Physical contexts are torn down eagerly, so the inverse is
// always defined.
func (c *ServletContextModelChange) Uninstall() Change {
	op, ok := c.Op.Inverse()
	if !ok || op == OpModify {
		return nil
	}
	return &ServletContextModelChange{Op: op, Model: c.Model}
}

func (c *ServletContextModelChange) String() string {
	return fmt.Sprintf("ServletContextModelChange{%s,%s}", c.Op, c.Model.Path)
}

func (c *ServletContextModelChange) sealed() {}

// OsgiContextModelChange adds or deletes a logical context. ENABLE and DISABLE mark the context as (no longer)
// being the default logical context of its physical path.
type OsgiContextModelChange struct {
	Op    OpCode
	Model *model.OsgiContextModel
}

func (c *OsgiContextModelChange) Kind() OpCode {
	return c.Op
}

func (c *OsgiContextModelChange) Accept(v Visitor) error {
	return v.VisitOsgiContextModelChange(c)
}

func (c *OsgiContextModelChange) Uninstall() Change {
	op, ok := c.Op.Inverse()
	if !ok || op == OpModify {
		return nil
	}
	return &OsgiContextModelChange{Op: op, Model: c.Model}
}

func (c *OsgiContextModelChange) String() string {
	return fmt.Sprintf("OsgiContextModelChange{%s,%s}", c.Op, c.Model.ID())
}

func (c *OsgiContextModelChange) sealed() {}

// FilterStateChange carries the complete ordered chain of active filters for every physical path whose chain was
// changed by a batch. Previous holds the chains before the change so the inverse simply swaps both.
type FilterStateChange struct {
	Previous map[string][]*model.FilterModel
	Current  map[string][]*model.FilterModel
}

func (c *FilterStateChange) Kind() OpCode {
	return OpModify
}

func (c *FilterStateChange) Accept(v Visitor) error {
	return v.VisitFilterStateChange(c)
}

func (c *FilterStateChange) Uninstall() Change {
	return &FilterStateChange{Previous: c.Current, Current: c.Previous}
}

// Paths returns the physical paths whose chains changed
func (c *FilterStateChange) Paths() []string {
	var paths []string
	for p := range c.Current {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (c *FilterStateChange) String() string {
	var parts []string
	for _, p := range c.Paths() {
		var names []string
		for _, f := range c.Current[p] {
			names = append(names, f.Name)
		}
		parts = append(parts, p+"="+strings.Join(names, ","))
	}
	return fmt.Sprintf("FilterStateChange{%s}", strings.Join(parts, ";"))
}

func (c *FilterStateChange) sealed() {}

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
	"net/http"
	"os"

	"github.com/openziti/xweb-registry/model"
	"github.com/sirupsen/logrus"
)

const DefaultContextBinding = "default"

// ContextFactory creates the WebContainerContext of a configured logical context
type ContextFactory interface {
	Binding() string
	New(config *ContextConfig) (model.WebContainerContext, error)
	Validate(config *InstanceConfig) error
}

// Registry describes a registry of binding to ContextFactory registrations
type Registry interface {
	Add(factory ContextFactory) error
	Get(binding string) ContextFactory
}

// RegistryMap is a basic Registry implementation backed by a simple mapping of binding (string) to ContextFactory instances
type RegistryMap struct {
	factories map[string]ContextFactory
}

// NewRegistryMap creates a new RegistryMap
func NewRegistryMap() *RegistryMap {
	return &RegistryMap{
		factories: map[string]ContextFactory{},
	}
}

// NewDefaultRegistry creates a RegistryMap holding the DefaultContextFactory
func NewDefaultRegistry() *RegistryMap {
	registry := NewRegistryMap()
	_ = registry.Add(&DefaultContextFactory{})
	return registry
}

// Add adds a factory to the registry. Errors if a previous factory with the same binding is registered.
func (registry RegistryMap) Add(factory ContextFactory) error {
	logrus.Debugf("adding xweb context factory with binding: %v", factory.Binding())
	if _, ok := registry.factories[factory.Binding()]; ok {
		return fmt.Errorf("binding [%s] already registered", factory.Binding())
	}

	registry.factories[factory.Binding()] = factory

	return nil
}

// Get retrieves a factory based on a binding or nil if no factory for the binding is registered
func (registry RegistryMap) Get(binding string) ContextFactory {
	return registry.factories[binding]
}

// DefaultContextFactory creates model.DefaultContext instances. The optional "resources" option names a directory
// served as the context's resources, "shared" makes the context usable by every owner.
type DefaultContextFactory struct{}

var _ ContextFactory = &DefaultContextFactory{}

func (factory *DefaultContextFactory) Binding() string {
	return DefaultContextBinding
}

func (factory *DefaultContextFactory) New(config *ContextConfig) (model.WebContainerContext, error) {
	ctx := model.NewDefaultContext(config.Name, nil)
	options := config.Options()
	if dir, ok := options["resources"].(string); ok {
		ctx.FS = http.Dir(dir)
	}
	if shared, ok := options["shared"].(bool); ok {
		ctx.IsShared = shared
	}
	return ctx, nil
}

func (factory *DefaultContextFactory) Validate(config *InstanceConfig) error {
	for _, ctx := range config.Contexts {
		if ctx.Binding() != factory.Binding() {
			continue
		}
		if val, ok := ctx.Options()["resources"]; ok {
			dir, ok := val.(string)
			if !ok {
				return fmt.Errorf("resources option of context [%s] must be a string", ctx.Name)
			}
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return fmt.Errorf("resources [%s] of context [%s] is not a directory", dir, ctx.Name)
			}
		}
		if val, ok := ctx.Options()["shared"]; ok {
			if _, ok := val.(bool); !ok {
				return fmt.Errorf("shared option of context [%s] must be a boolean", ctx.Name)
			}
		}
	}
	return nil
}

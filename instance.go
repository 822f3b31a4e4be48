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
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xweb-registry/model"
)

// Instance implements config.Subconfig to allow Instance implementations to be used during the normal component startup
// and configuration phase.
type Instance interface {
	Enabled() bool
	LoadConfig(cfgmap map[interface{}]interface{}) error
	Run()
	Shutdown()
	GetRegistry() Registry
	GetConfig() *InstanceConfig
	GetServerModel() *ServerModel
	WebContainer(owner model.Owner) *WebContainer
}

const (
	DefaultIdentitySection = "identity"
	DefaultConfigSection   = "web"

	// ConfigOwner owns the contexts declared in configuration
	ConfigOwner = model.Owner("xweb.config")
)

// InstanceImpl is a basic implementation of Instance. It owns the ServerModel and hands out one WebContainer per
// owner, all of them sending their batches to the same ServerController.
type InstanceImpl struct {
	Config     *InstanceConfig
	Registry   Registry
	Model      *ServerModel
	Controller ServerController

	lock       sync.Mutex
	containers map[model.Owner]*WebContainer
}

var _ Instance = &InstanceImpl{}

func NewDefaultInstance(registry Registry, controller ServerController) *InstanceImpl {
	return &InstanceImpl{
		Registry:   registry,
		Controller: controller,
		Model:      NewServerModel(WholeModel),
		Config:     NewInstanceConfig(),
		containers: map[model.Owner]*WebContainer{},
	}
}

// GetRegistry returns the associated Registry
func (i *InstanceImpl) GetRegistry() Registry {
	return i.Registry
}

// GetConfig returns the associated InstanceConfig
func (i *InstanceImpl) GetConfig() *InstanceConfig {
	return i.Config
}

// GetServerModel returns the model all registrations end up in
func (i *InstanceImpl) GetServerModel() *ServerModel {
	return i.Model
}

// Enabled returns true/false on whether this subconfig should be considered enabled
func (i *InstanceImpl) Enabled() bool {
	return i.Config.Enabled()
}

// LoadConfig handles subconfig operations for xweb.Instance components
func (i *InstanceImpl) LoadConfig(cfgmap map[interface{}]interface{}) error {
	if err := i.Config.Parse(cfgmap); err != nil {
		return err
	}

	//validate sets enabled flag to true on success
	if err := i.Config.Validate(i.Registry); err != nil {
		return err
	}

	return i.Model.SetPolicy(i.Config.ConflictPolicy)
}

// WebContainer returns the container of owner, creating it on first use
func (i *InstanceImpl) WebContainer(owner model.Owner) *WebContainer {
	i.lock.Lock()
	defer i.lock.Unlock()

	if wc, ok := i.containers[owner]; ok {
		return wc
	}
	wc := NewWebContainer(owner, i.Model, i.Controller)
	i.containers[owner] = wc
	return wc
}

// StopWebContainer removes everything owner registered and forgets its container
func (i *InstanceImpl) StopWebContainer(owner model.Owner) error {
	i.lock.Lock()
	wc, ok := i.containers[owner]
	delete(i.containers, owner)
	i.lock.Unlock()

	if !ok {
		return nil
	}
	return wc.Stop()
}

// Build configures the controller and registers the contexts declared in configuration
func (i *InstanceImpl) Build() error {
	if err := i.Controller.Configure(i.Config); err != nil {
		return fmt.Errorf("error configuring server controller: %v", err)
	}

	wc := i.WebContainer(ConfigOwner)
	for _, contextConfig := range i.Config.Contexts {
		factory := i.Registry.Get(contextConfig.Binding())
		if factory == nil {
			return fmt.Errorf("context [%s] has binding [%s] which has no associated factory registered", contextConfig.Name, contextConfig.Binding())
		}

		wctx, err := factory.New(contextConfig)
		if err != nil {
			return fmt.Errorf("encountered error building context [%s] for binding [%s]: %v", contextConfig.Name, contextConfig.Binding(), err)
		}

		ctx, err := wc.RegisterContext(wctx, contextConfig.Path,
			WithRank(contextConfig.Rank),
			WithVirtualHosts(contextConfig.VirtualHosts...),
			WithConnectors(contextConfig.Connectors...),
			WithAttributes(contextConfig.Attributes()))
		if err != nil {
			return fmt.Errorf("error registering context [%s]: %v", contextConfig.Name, err)
		}
		pfxlog.Logger().Infof("registered configured context %s", ctx)
	}

	return nil
}

// Start starts the controller
func (i *InstanceImpl) Start() error {
	return i.Controller.Start()
}

// Run builds and starts the server runtime
func (i *InstanceImpl) Run() {
	if err := i.Build(); err != nil {
		pfxlog.Logger().Fatalf("error building xweb instance: %v", err)
	}

	if err := i.Start(); err != nil {
		pfxlog.Logger().Errorf("error starting xweb instance: %v", err)
	}
}

// Shutdown stops every web container, configuration owned contexts last, then the controller
func (i *InstanceImpl) Shutdown() {
	i.lock.Lock()
	var owners []model.Owner
	for owner := range i.containers {
		if owner != ConfigOwner {
			owners = append(owners, owner)
		}
	}
	i.lock.Unlock()
	sort.Slice(owners, func(a, b int) bool { return owners[a] < owners[b] })

	var errs []error
	for _, owner := range append(owners, ConfigOwner) {
		if err := i.StopWebContainer(owner); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		pfxlog.Logger().WithError(err).Warn("cleanup during shutdown was incomplete")
	}

	if err := i.Controller.Stop(); err != nil {
		pfxlog.Logger().WithError(err).Error("error stopping server controller")
	}
}

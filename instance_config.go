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
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/identity"
	"gopkg.in/yaml.v2"
)

const (
	MinTLSVersion = tls.VersionTLS12
	MaxTLSVersion = tls.VersionTLS13

	DefaultHttpWriteTimeout = time.Second * 10
	DefaultHttpReadTimeout  = time.Second * 5
	DefaultHttpIdleTimeout  = time.Second * 5

	DefaultContextsSection = "contexts"
	DefaultRegistrySection = "registry"
)

// TlsVersionMap is a map of configuration strings to TLS version identifiers
var TlsVersionMap = map[string]int{
	"TLS1.0": tls.VersionTLS10,
	"TLS1.1": tls.VersionTLS11,
	"TLS1.2": tls.VersionTLS12,
	"TLS1.3": tls.VersionTLS13,
}

// InstanceConfig is the root configuration: the servers to run, the contexts to register up front and the
// registry options.
type InstanceConfig struct {
	SourceConfig map[interface{}]interface{}

	ServerConfigs   []*ServerConfig
	Contexts        []*ContextConfig
	ConflictPolicy  ConflictPolicy
	Section         string
	ContextsSection string
	RegistrySection string

	DefaultIdentity        identity.Identity
	DefaultIdentitySection string

	//used for loading/validation logic, use DefaultIdentity for runtime
	defaultIdentityConfig *identity.Config

	enabled bool
}

// NewInstanceConfig creates an InstanceConfig using the default section names
func NewInstanceConfig() *InstanceConfig {
	return &InstanceConfig{
		Section:                DefaultConfigSection,
		ContextsSection:        DefaultContextsSection,
		RegistrySection:        DefaultRegistrySection,
		DefaultIdentitySection: DefaultIdentitySection,
	}
}

// LoadConfigFile reads a YAML file into the map representation Parse consumes
func LoadConfigFile(path string) (map[interface{}]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file [%s]: %v", path, err)
	}

	configMap := map[interface{}]interface{}{}
	if err = yaml.Unmarshal(data, &configMap); err != nil {
		return nil, fmt.Errorf("could not parse config file [%s]: %v", path, err)
	}
	return configMap, nil
}

// Parse parses a configuration map, looking for the server, context and registry sections. The identity section is
// optional, servers without an identity listen without TLS.
func (config *InstanceConfig) Parse(configMap map[interface{}]interface{}) error {
	config.SourceConfig = configMap

	if config.Section == "" {
		return errors.New("web section not specified for configuration")
	}

	if config.DefaultIdentity == nil && config.DefaultIdentitySection != "" {
		if identityInterface, ok := configMap[config.DefaultIdentitySection]; ok {
			if identityMap, ok := identityInterface.(map[interface{}]interface{}); ok {
				if identityConfig, err := parseIdentityConfig(identityMap, config.DefaultIdentitySection); err == nil {
					config.defaultIdentityConfig = identityConfig
				} else {
					return fmt.Errorf("error parsing root identity section [%s] : %v", config.DefaultIdentitySection, err)
				}
			} else {
				return fmt.Errorf("root identity section [%s] must be a map", config.DefaultIdentitySection)
			}
		} //no else, optional
	}

	if sectionVal, ok := configMap[config.Section]; ok {
		//treat section like an array of maps
		if sectionArrayVals, ok := sectionVal.([]interface{}); ok {
			for i, sectionArrayVal := range sectionArrayVals {
				if sectionMap, ok := sectionArrayVal.(map[interface{}]interface{}); ok {
					serverConfig := &ServerConfig{
						DefaultIdentity: config.DefaultIdentity,
					}
					if err := serverConfig.Parse(sectionMap, config.Section); err != nil {
						return fmt.Errorf("error parsing web configuration [%s] at index [%d]: %v", config.Section, i, err)
					}

					config.ServerConfigs = append(config.ServerConfigs, serverConfig)
				} else {
					return fmt.Errorf("error parsing web configuration [%s] at index [%d]: not a map", config.Section, i)
				}
			}
		} else {
			return fmt.Errorf("web section [%s] must be an array", config.Section)
		}
	}

	if contextsVal, ok := configMap[config.ContextsSection]; ok && config.ContextsSection != "" {
		if contextArrayVals, ok := contextsVal.([]interface{}); ok {
			for i, contextVal := range contextArrayVals {
				if contextMap, ok := contextVal.(map[interface{}]interface{}); ok {
					contextConfig := &ContextConfig{}
					if err := contextConfig.Parse(contextMap); err != nil {
						return fmt.Errorf("error parsing context configuration [%s] at index [%d]: %v", config.ContextsSection, i, err)
					}
					config.Contexts = append(config.Contexts, contextConfig)
				} else {
					return fmt.Errorf("error parsing context configuration [%s] at index [%d]: not a map", config.ContextsSection, i)
				}
			}
		} else {
			return fmt.Errorf("contexts section [%s] must be an array", config.ContextsSection)
		}
	}

	if registryVal, ok := configMap[config.RegistrySection]; ok && config.RegistrySection != "" {
		if registryMap, ok := registryVal.(map[interface{}]interface{}); ok {
			if policyVal, ok := registryMap["conflictPolicy"]; ok {
				policyStr, ok := policyVal.(string)
				if !ok {
					return errors.New("conflictPolicy must be a string")
				}
				policy, err := ParseConflictPolicy(policyStr)
				if err != nil {
					return err
				}
				config.ConflictPolicy = policy
			}
		} else {
			return fmt.Errorf("registry section [%s] must be a map", config.RegistrySection)
		}
	}

	return nil
}

// Validate uses a Registry to validate that all ContextConfig bindings may be fulfilled. All other relevant
// InstanceConfig values are also validated.
func (config *InstanceConfig) Validate(registry Registry) error {
	if config.DefaultIdentity == nil && config.defaultIdentityConfig != nil {
		//validate default identity by loading
		if defaultIdentity, err := identity.LoadIdentity(*config.defaultIdentityConfig); err == nil {
			config.DefaultIdentity = defaultIdentity

			if err := config.DefaultIdentity.WatchFiles(); err != nil {
				pfxlog.Logger().Warnf("could not enable file watching on default identity: %v", err)
			}
		} else {
			return fmt.Errorf("could not load default identity: %v", err)
		}
	}

	if config.DefaultIdentity != nil {
		//add default identity to each server that has none of its own
		for _, serverConfig := range config.ServerConfigs {
			serverConfig.DefaultIdentity = config.DefaultIdentity
		}
	}

	serverNames := map[string]bool{}
	var errs []error
	for i, serverConfig := range config.ServerConfigs {
		if err := serverConfig.Validate(); err != nil {
			return fmt.Errorf("could not validate server at %s[%d]: %v", config.Section, i, err)
		}
		if serverNames[serverConfig.Name] {
			return fmt.Errorf("duplicate server name [%s] at %s[%d]", serverConfig.Name, config.Section, i)
		}
		serverNames[serverConfig.Name] = true

		if serverConfig.Identity != nil {
			for _, bp := range serverConfig.BindPoints {
				if ve := serverConfig.Identity.ValidFor(bp.Address); ve != nil {
					errs = append(errs, ve)
				}
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	presentFactories := map[string]ContextFactory{}
	for i, contextConfig := range config.Contexts {
		if err := contextConfig.Validate(); err != nil {
			return fmt.Errorf("invalid context at %s[%d]: %v", config.ContextsSection, i, err)
		}

		factory := registry.Get(contextConfig.Binding())
		if factory == nil {
			return fmt.Errorf("invalid context at %s[%d]: invalid binding %s", config.ContextsSection, i, contextConfig.Binding())
		}
		presentFactories[contextConfig.Binding()] = factory

		for _, connector := range contextConfig.Connectors {
			if !serverNames[connector] {
				return fmt.Errorf("invalid context at %s[%d]: unknown connector [%s]", config.ContextsSection, i, connector)
			}
		}
	}

	for binding, factory := range presentFactories {
		if err := factory.Validate(config); err != nil {
			return fmt.Errorf("error validating context binding %s: %v", binding, err)
		}
	}

	//enabled only after validation passes
	config.enabled = true

	return nil
}

// Enabled returns true/false on whether this configuration should be considered "enabled". Set to true after
// Validate passes.
func (config *InstanceConfig) Enabled() bool {
	return config.enabled
}

func parseIdentityConfig(identityMap map[interface{}]interface{}, pathContext string) (*identity.Config, error) {
	idConfig, err := identity.NewConfigFromMap(identityMap)
	if err != nil {
		return nil, fmt.Errorf("error parsing identity: %v", err)
	}

	if err = idConfig.ValidateWithPathContext(pathContext); err != nil {
		return nil, fmt.Errorf("error parsing identity: %v", err)
	}

	return idConfig, nil
}

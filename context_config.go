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
	"github.com/openziti/xweb-registry/model"
	"github.com/pkg/errors"
)

// ContextConfig declares a logical context that is registered when the Instance starts. The binding selects the
// ContextFactory that creates its WebContainerContext, the options are interpreted by that factory only.
type ContextConfig struct {
	binding      string
	Name         string
	Path         string
	Rank         int
	VirtualHosts []string
	Connectors   []string
	options      map[interface{}]interface{}
}

// Binding returns the string that identifies the ContextFactory for this context
func (ctx *ContextConfig) Binding() string {
	return ctx.binding
}

// Options returns the options associated with this context, left to the ContextFactory to interpret
func (ctx *ContextConfig) Options() map[interface{}]interface{} {
	return ctx.options
}

// Parse the configuration map for a ContextConfig.
func (ctx *ContextConfig) Parse(contextConfigMap map[interface{}]interface{}) error {
	if bindingInterface, ok := contextConfigMap["binding"]; ok {
		if binding, ok := bindingInterface.(string); ok {
			ctx.binding = binding
		} else {
			return errors.New("binding must be a string")
		}
	} else {
		return errors.New("binding is required")
	}

	if nameInterface, ok := contextConfigMap["name"]; ok {
		if name, ok := nameInterface.(string); ok {
			ctx.Name = name
		} else {
			return errors.New("name must be a string")
		}
	} else {
		return errors.New("name is required")
	}

	ctx.Path = "/"
	if pathInterface, ok := contextConfigMap["path"]; ok {
		if path, ok := pathInterface.(string); ok {
			ctx.Path = path
		} else {
			return errors.New("path must be a string")
		}
	}

	if rankInterface, ok := contextConfigMap["rank"]; ok {
		if rank, ok := rankInterface.(int); ok {
			ctx.Rank = rank
		} else {
			return errors.New("rank must be an integer")
		}
	}

	var err error
	if ctx.VirtualHosts, err = parseStringList(contextConfigMap, "virtualHosts"); err != nil {
		return err
	}
	if ctx.Connectors, err = parseStringList(contextConfigMap, "connectors"); err != nil {
		return err
	}

	if optionsInterface, ok := contextConfigMap["options"]; ok {
		if optionsMap, ok := optionsInterface.(map[interface{}]interface{}); ok {
			ctx.options = optionsMap //leave to factories to interpret further
		} else {
			return errors.New("options if declared must be a map")
		}
	} //no else optional

	return nil
}

// Validate this configuration object.
func (ctx *ContextConfig) Validate() error {
	if ctx.Binding() == "" {
		return errors.New("binding must be specified")
	}

	if ctx.Name == "" {
		return errors.New("name must be specified")
	}

	return model.ValidateContextPath(ctx.Path)
}

// Attributes returns the options as string keyed attributes for the logical context
func (ctx *ContextConfig) Attributes() map[string]interface{} {
	if len(ctx.options) == 0 {
		return nil
	}
	result := map[string]interface{}{}
	for k, v := range ctx.options {
		if key, ok := k.(string); ok {
			result[key] = v
		}
	}
	return result
}

func parseStringList(configMap map[interface{}]interface{}, key string) ([]string, error) {
	val, ok := configMap[key]
	if !ok {
		return nil, nil
	}
	list, ok := val.([]interface{})
	if !ok {
		return nil, errors.Errorf("%s must be an array of strings", key)
	}
	var result []string
	for i, entry := range list {
		str, ok := entry.(string)
		if !ok {
			return nil, errors.Errorf("%s entry at index [%d] must be a string", key, i)
		}
		result = append(result, str)
	}
	return result, nil
}

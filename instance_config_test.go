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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testConfig = `
web:
  - name: public
    bindPoints:
      - interface: 127.0.0.1:18443
        address: localhost:18443
        newAddress: example.com:443
    options:
      readTimeout: 2s
  - name: internal
    bindPoints:
      - interface: 127.0.0.1:18444
contexts:
  - binding: default
    name: root
    rank: 3
    virtualHosts: [example.com]
    connectors: [public]
    options:
      shared: true
  - binding: default
    name: api
    path: /api
registry:
  conflictPolicy: perContext
`

func writeConfig(t *testing.T, content string) string {
	configPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	return configPath
}

func Test_InstanceConfig(t *testing.T) {
	t.Run("a complete configuration file is loaded", func(t *testing.T) {
		req := require.New(t)

		configMap, err := LoadConfigFile(writeConfig(t, testConfig))
		req.NoError(err)

		config := NewInstanceConfig()
		req.NoError(config.Parse(configMap))
		req.False(config.Enabled())
		req.NoError(config.Validate(NewDefaultRegistry()))
		req.True(config.Enabled())

		req.Equal(PerContext, config.ConflictPolicy)

		req.Len(config.ServerConfigs, 2)
		public := config.ServerConfigs[0]
		req.Equal("public", public.Name)
		req.Equal("localhost:18443", public.BindPoints[0].ServerAddress())
		req.Equal("example.com:443", public.BindPoints[0].NewAddress)
		req.Equal(2*time.Second, public.Options.ReadTimeout)
		req.Nil(public.TLSConfig())

		// the advertised address defaults to the interface
		req.Equal("127.0.0.1:18444", config.ServerConfigs[1].BindPoints[0].Address)

		req.Len(config.Contexts, 2)
		root := config.Contexts[0]
		req.Equal(DefaultContextBinding, root.Binding())
		req.Equal("/", root.Path)
		req.Equal(3, root.Rank)
		req.Equal([]string{"example.com"}, root.VirtualHosts)
		req.Equal([]string{"public"}, root.Connectors)
		req.Equal(map[string]interface{}{"shared": true}, root.Attributes())
		req.Equal("/api", config.Contexts[1].Path)
		req.Nil(config.Contexts[1].Attributes())
	})

	t.Run("a missing file is an error", func(t *testing.T) {
		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yml"))
		require.Error(t, err)
	})

	t.Run("invalid yaml is an error", func(t *testing.T) {
		_, err := LoadConfigFile(writeConfig(t, "web: [unclosed"))
		require.Error(t, err)
	})

	for name, content := range map[string]string{
		"web section is not an array":      "web: {}",
		"server without bind points":       "web:\n  - name: public\n",
		"server without name":              "web:\n  - bindPoints: []\n",
		"contexts section is not an array": "contexts: {}",
		"context without binding":          "contexts:\n  - name: root\n",
		"context without name":             "contexts:\n  - binding: default\n",
		"context rank is not an integer":   "contexts:\n  - binding: default\n    name: root\n    rank: high\n",
		"virtual hosts are not strings":    "contexts:\n  - binding: default\n    name: root\n    virtualHosts: [1]\n",
		"unknown conflict policy":          "registry:\n  conflictPolicy: firstWins\n",
		"registry section is not a map":    "registry: []",
	} {
		t.Run("parsing fails if the "+name, func(t *testing.T) {
			req := require.New(t)

			configMap, err := LoadConfigFile(writeConfig(t, content))
			req.NoError(err)
			req.Error(NewInstanceConfig().Parse(configMap))
		})
	}

	for name, content := range map[string]string{
		"binding is unknown":        "contexts:\n  - binding: unknown\n    name: root\n",
		"path ends with a slash":    "contexts:\n  - binding: default\n    name: root\n    path: /root/\n",
		"connector is unknown":      "contexts:\n  - binding: default\n    name: root\n    connectors: [nowhere]\n",
		"interface has no port":     "web:\n  - name: public\n    bindPoints:\n      - interface: 127.0.0.1\n",
		"server names are repeated": "web:\n  - name: a\n    bindPoints:\n      - interface: 127.0.0.1:1\n  - name: a\n    bindPoints:\n      - interface: 127.0.0.1:2\n",
		"resources is a file":       "contexts:\n  - binding: default\n    name: root\n    options:\n      resources: " + writeConfig(t, "") + "\n",
		"shared is not a boolean":   "contexts:\n  - binding: default\n    name: root\n    options:\n      shared: yes please\n",
	} {
		t.Run("validation fails if the "+name, func(t *testing.T) {
			req := require.New(t)

			configMap, err := LoadConfigFile(writeConfig(t, content))
			req.NoError(err)

			config := NewInstanceConfig()
			req.NoError(config.Parse(configMap))
			req.Error(config.Validate(NewDefaultRegistry()))
			req.False(config.Enabled())
		})
	}
}

func Test_Registry(t *testing.T) {
	t.Run("bindings are unique", func(t *testing.T) {
		req := require.New(t)

		registry := NewRegistryMap()
		req.Nil(registry.Get(DefaultContextBinding))
		req.NoError(registry.Add(&DefaultContextFactory{}))
		req.Error(registry.Add(&DefaultContextFactory{}))
		req.NotNil(registry.Get(DefaultContextBinding))
	})

	t.Run("the default factory honors its options", func(t *testing.T) {
		req := require.New(t)

		factory := &DefaultContextFactory{}
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0600))

		config := &ContextConfig{}
		req.NoError(config.Parse(map[interface{}]interface{}{
			"binding": DefaultContextBinding,
			"name":    "static",
			"options": map[interface{}]interface{}{
				"resources": dir,
				"shared":    true,
			},
		}))

		wctx, err := factory.New(config)
		req.NoError(err)
		req.Equal("static", wctx.ContextID())
		req.True(wctx.Shared())
		req.Equal("text/html; charset=utf-8", wctx.MimeType("index.html"))

		file, err := wctx.Resources().Open("/index.html")
		req.NoError(err)
		req.NoError(file.Close())
	})
}

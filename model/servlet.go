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

package model

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ServletModel describes a servlet (an http.Handler) mapped to URL patterns. A servlet registered through an alias
// permanently reserves that alias; resource servlets have no handler and serve ResourceBase from the context's
// resources instead.
type ServletModel struct {
	Element
	Name           string
	Alias          string
	URLPatterns    []string
	Servlet        http.Handler
	InitParams     map[string]string
	ResourceBase   string
	AsyncSupported bool
}

var _ ElementModel = &ServletModel{}

func (m *ServletModel) Kind() Kind {
	return KindServlet
}

func (m *ServletModel) Keys() []string {
	keys := make([]string, 0, len(m.URLPatterns)+1)
	for _, p := range m.URLPatterns {
		keys = append(keys, "pattern:"+p)
	}
	return append(keys, "name:"+m.Name)
}

// IsResource returns true for servlets serving static resources
func (m *ServletModel) IsResource() bool {
	return m.Servlet == nil
}

func (m *ServletModel) Validate() error {
	if m.Name == "" {
		return errors.New("servlet name must not be empty")
	}
	if m.Servlet == nil && m.ResourceBase == "" {
		return errors.Errorf("servlet [%s] has neither a handler nor a resource base", m.Name)
	}
	if len(m.URLPatterns) == 0 {
		return errors.Errorf("servlet [%s] has no url patterns", m.Name)
	}
	if err := validatePatterns(m.URLPatterns); err != nil {
		return errors.Wrapf(err, "servlet [%s]", m.Name)
	}
	return validateElement(&m.Element)
}

func (m *ServletModel) String() string {
	return fmt.Sprintf("ServletModel{id=%d,name=%s,patterns=%v,rank=%d}", m.ServiceID, m.Name, m.URLPatterns, m.Rank)
}

// ValidateAlias checks HttpService style alias syntax: it must start with / and must not end with / unless it is
// exactly /.
func ValidateAlias(alias string) error {
	if alias == "/" {
		return nil
	}
	if !strings.HasPrefix(alias, "/") {
		return errors.Errorf("alias [%s] must start with /", alias)
	}
	if strings.HasSuffix(alias, "/") {
		return errors.Errorf("alias [%s] must not end with /", alias)
	}
	if strings.Contains(alias, "*") {
		return errors.Errorf("alias [%s] must not contain wildcards", alias)
	}
	return nil
}

// AliasToPatterns converts an alias to the url patterns it maps: the alias itself and everything below it.
func AliasToPatterns(alias string) []string {
	if alias == "/" {
		return []string{"/"}
	}
	return []string{alias, alias + "/*"}
}

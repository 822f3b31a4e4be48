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
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// WebContainerContext is the capability object a component supplies with its registrations. The registry never
// calls it, it is carried along to the server backend which uses it for mime types, resources and security.
type WebContainerContext interface {
	ContextID() string
	Shared() bool
	MimeType(name string) string
	Resources() http.FileSystem
	// HandleSecurity returns the (possibly augmented) request and whether processing may continue.
	HandleSecurity(w http.ResponseWriter, r *http.Request) (*http.Request, bool)
}

// DefaultContext is a WebContainerContext backed by an optional http.FileSystem that allows every request.
type DefaultContext struct {
	ID       string
	IsShared bool
	FS       http.FileSystem
	Security func(w http.ResponseWriter, r *http.Request) (*http.Request, bool)
}

var _ WebContainerContext = &DefaultContext{}

// NewDefaultContext creates a DefaultContext with the given id and resource file system (may be nil)
func NewDefaultContext(id string, fs http.FileSystem) *DefaultContext {
	return &DefaultContext{
		ID: id,
		FS: fs,
	}
}

func (c *DefaultContext) ContextID() string {
	return c.ID
}

func (c *DefaultContext) Shared() bool {
	return c.IsShared
}

func (c *DefaultContext) MimeType(name string) string {
	return mime.TypeByExtension(path.Ext(name))
}

func (c *DefaultContext) Resources() http.FileSystem {
	return c.FS
}

func (c *DefaultContext) HandleSecurity(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if c.Security != nil {
		return c.Security(w, r)
	}
	return r, true
}

// ServletContextModel is a physical mount point. Exactly one exists per context path regardless of how many
// logical contexts are bound to it.
type ServletContextModel struct {
	Path string
}

func (m *ServletContextModel) String() string {
	return fmt.Sprintf("ServletContextModel{path=%s}", m.Path)
}

// OsgiContextModel is a logical context owned by one component and bound to exactly one physical path. Several
// logical contexts may share a path, the best ranked of them is the default for that path.
type OsgiContextModel struct {
	Ranking
	Name         string
	Owner        Owner
	Path         string
	Context      WebContainerContext
	InitParams   map[string]string
	VirtualHosts []string
	Connectors   []string
	// Attributes holds configuration that is passed through to the backend uninterpreted (session settings etc.)
	Attributes map[string]interface{}
	Shared     bool
}

func (m *OsgiContextModel) GetRanking() Ranking {
	return m.Ranking
}

// ID returns the identity of the logical context, unique per owning scope.
func (m *OsgiContextModel) ID() string {
	return ContextID(m.Name, m.Owner, m.Shared)
}

func (m *OsgiContextModel) String() string {
	return fmt.Sprintf("OsgiContextModel{id=%s,path=%s,%s}", m.ID(), m.Path, m.Ranking)
}

// ContextID builds the identity of a logical context. Shared contexts are identified by name alone.
func ContextID(name string, owner Owner, shared bool) string {
	if shared {
		return name
	}
	return name + "@" + string(owner)
}

// Validate checks the static properties of the context
func (m *OsgiContextModel) Validate() error {
	if m.Name == "" {
		return errors.New("context name must not be empty")
	}
	if m.Owner == "" && !m.Shared {
		return errors.New("context owner must be specified for a non-shared context")
	}
	return ValidateContextPath(m.Path)
}

// ValidateContextPath checks that p is "/" or starts with "/" and does not end with "/"
func ValidateContextPath(p string) error {
	if p == "/" {
		return nil
	}
	if !strings.HasPrefix(p, "/") {
		return errors.Errorf("context path [%s] must start with /", p)
	}
	if strings.HasSuffix(p, "/") {
		return errors.Errorf("context path [%s] must not end with /", p)
	}
	return nil
}

// PathsOf returns the distinct physical paths of the given logical contexts, sorted.
func PathsOf(contexts []*OsgiContextModel) []string {
	var result []string
	for _, ctx := range contexts {
		if !slices.Contains(result, ctx.Path) {
			result = append(result, ctx.Path)
		}
	}
	sort.Strings(result)
	return result
}

type rolesKey struct{}

// WithRoles returns a context carrying the roles of the authenticated user. A WebContainerContext stores them
// from HandleSecurity so security constraints can be evaluated.
func WithRoles(ctx context.Context, roles ...string) context.Context {
	return context.WithValue(ctx, rolesKey{}, roles)
}

// RolesFromContext returns the roles stored by WithRoles and whether a user was authenticated at all.
func RolesFromContext(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(rolesKey{}).([]string)
	return roles, ok
}

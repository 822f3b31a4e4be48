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

// EventListenerModel carries a listener. Listeners implementing ContextListener are told about context start
// and stop, anything else is stored as a context attribute-like payload for the backend.
type EventListenerModel struct {
	Element
	Listener interface{}
}

var _ ElementModel = &EventListenerModel{}

func (m *EventListenerModel) Kind() Kind {
	return KindEventListener
}

func (m *EventListenerModel) Keys() []string {
	return nil
}

func (m *EventListenerModel) Validate() error {
	if m.Listener == nil {
		return errors.New("listener must not be nil")
	}
	return validateElement(&m.Element)
}

func (m *EventListenerModel) String() string {
	return fmt.Sprintf("EventListenerModel{id=%d,listener=%T,rank=%d}", m.ServiceID, m.Listener, m.Rank)
}

// WelcomeFileModel contributes welcome files. Contributions from all active models are concatenated in ranking
// order.
type WelcomeFileModel struct {
	Element
	Files    []string
	Redirect bool
}

var _ ElementModel = &WelcomeFileModel{}

func (m *WelcomeFileModel) Kind() Kind {
	return KindWelcomeFile
}

func (m *WelcomeFileModel) Keys() []string {
	return nil
}

func (m *WelcomeFileModel) Validate() error {
	if len(m.Files) == 0 {
		return errors.New("no welcome files specified")
	}
	for _, f := range m.Files {
		if f == "" || strings.HasSuffix(f, "/") {
			return errors.Errorf("invalid welcome file [%s]", f)
		}
	}
	return validateElement(&m.Element)
}

func (m *WelcomeFileModel) String() string {
	return fmt.Sprintf("WelcomeFileModel{id=%d,files=%v,rank=%d}", m.ServiceID, m.Files, m.Rank)
}

// ContainerInitializerModel runs an initializer when it becomes active in a context.
type ContainerInitializerModel struct {
	Element
	Initializer ContainerInitializer
	Classes     []string
}

var _ ElementModel = &ContainerInitializerModel{}

func (m *ContainerInitializerModel) Kind() Kind {
	return KindContainerInitializer
}

func (m *ContainerInitializerModel) Keys() []string {
	return nil
}

func (m *ContainerInitializerModel) Validate() error {
	if m.Initializer == nil {
		return errors.New("initializer must not be nil")
	}
	return validateElement(&m.Element)
}

func (m *ContainerInitializerModel) String() string {
	return fmt.Sprintf("ContainerInitializerModel{id=%d,initializer=%T,rank=%d}", m.ServiceID, m.Initializer, m.Rank)
}

// WebSocketModel maps a websocket endpoint handler to an exact path.
type WebSocketModel struct {
	Element
	Path    string
	Handler http.Handler
}

var _ ElementModel = &WebSocketModel{}

func (m *WebSocketModel) Kind() Kind {
	return KindWebSocket
}

func (m *WebSocketModel) Keys() []string {
	return []string{"websocket:" + m.Path}
}

func (m *WebSocketModel) Validate() error {
	if !strings.HasPrefix(m.Path, "/") || strings.Contains(m.Path, "*") {
		return errors.Errorf("invalid websocket path [%s]", m.Path)
	}
	if m.Handler == nil {
		return errors.Errorf("websocket handler for [%s] is nil", m.Path)
	}
	return validateElement(&m.Element)
}

func (m *WebSocketModel) String() string {
	return fmt.Sprintf("WebSocketModel{id=%d,path=%s,rank=%d}", m.ServiceID, m.Path, m.Rank)
}

const (
	TransportGuaranteeNone         = "NONE"
	TransportGuaranteeConfidential = "CONFIDENTIAL"
)

// SecurityConstraintModel restricts access to URL patterns. A nil Roles list imposes no role check, an empty
// non-nil one denies everyone and "*" admits any authenticated user.
type SecurityConstraintModel struct {
	Element
	Name               string
	URLPatterns        []string
	Methods            []string
	Roles              []string
	TransportGuarantee string
}

var _ ElementModel = &SecurityConstraintModel{}

func (m *SecurityConstraintModel) Kind() Kind {
	return KindSecurityConstraint
}

func (m *SecurityConstraintModel) Keys() []string {
	return []string{"constraint:" + m.Name}
}

func (m *SecurityConstraintModel) Validate() error {
	if m.Name == "" {
		return errors.New("security constraint name must not be empty")
	}
	if len(m.URLPatterns) == 0 {
		return errors.Errorf("security constraint [%s] has no url patterns", m.Name)
	}
	if err := validatePatterns(m.URLPatterns); err != nil {
		return errors.Wrapf(err, "security constraint [%s]", m.Name)
	}
	switch m.TransportGuarantee {
	case "", TransportGuaranteeNone, TransportGuaranteeConfidential:
	default:
		return errors.Errorf("security constraint [%s] has unknown transport guarantee [%s]", m.Name, m.TransportGuarantee)
	}
	return validateElement(&m.Element)
}

// AppliesTo returns true if the constraint covers the given HTTP method
func (m *SecurityConstraintModel) AppliesTo(method string) bool {
	if len(m.Methods) == 0 {
		return true
	}
	for _, candidate := range m.Methods {
		if strings.EqualFold(candidate, method) {
			return true
		}
	}
	return false
}

// Permits returns true if a user holding roles (authenticated or not) passes the constraint
func (m *SecurityConstraintModel) Permits(roles []string, authenticated bool) bool {
	if m.Roles == nil {
		// no auth constraint at all, only transport guarantee applies
		return true
	}
	for _, required := range m.Roles {
		if required == "*" && authenticated {
			return true
		}
		for _, role := range roles {
			if role == required {
				return true
			}
		}
	}
	return false
}

func (m *SecurityConstraintModel) String() string {
	return fmt.Sprintf("SecurityConstraintModel{id=%d,name=%s,patterns=%v,rank=%d}", m.ServiceID, m.Name, m.URLPatterns, m.Rank)
}

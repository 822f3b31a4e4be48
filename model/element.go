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
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the kind of web element a model describes
type Kind int

const (
	KindServlet Kind = iota
	KindFilter
	KindErrorPage
	KindEventListener
	KindWelcomeFile
	KindContainerInitializer
	KindWebSocket
	KindSecurityConstraint
)

// Kinds lists every element kind
var Kinds = []Kind{
	KindServlet,
	KindFilter,
	KindErrorPage,
	KindEventListener,
	KindWelcomeFile,
	KindContainerInitializer,
	KindWebSocket,
	KindSecurityConstraint,
}

func (k Kind) String() string {
	switch k {
	case KindServlet:
		return "servlet"
	case KindFilter:
		return "filter"
	case KindErrorPage:
		return "errorPage"
	case KindEventListener:
		return "eventListener"
	case KindWelcomeFile:
		return "welcomeFile"
	case KindContainerInitializer:
		return "containerInitializer"
	case KindWebSocket:
		return "webSocket"
	case KindSecurityConstraint:
		return "securityConstraint"
	}
	return "unknown"
}

// Element holds the state shared by all element models: identity, ranking, owner and the logical contexts the
// element was registered against.
type Element struct {
	Ranking
	Owner    Owner
	Contexts []*OsgiContextModel
}

func (e *Element) Base() *Element {
	return e
}

func (e *Element) GetRanking() Ranking {
	return e.Ranking
}

// ID returns the service id of the element
func (e *Element) ID() int64 {
	return e.ServiceID
}

// ElementModel is implemented by all element models. Keys returns the mapping keys the element claims within each
// physical context; an element without keys never conflicts with anything.
type ElementModel interface {
	Ranked
	Base() *Element
	Kind() Kind
	Keys() []string
	Validate() error
	String() string
}

// ServletContext is the view of a running physical context that the backend hands to listeners and initializers.
type ServletContext interface {
	ContextPath() string
	InitParameter(name string) string
	Attribute(name string) interface{}
	SetAttribute(name string, value interface{})
}

// ContextListener is notified when the physical context an EventListenerModel is active in starts or stops.
type ContextListener interface {
	ContextInitialized(ctx ServletContext)
	ContextDestroyed(ctx ServletContext)
}

// ContainerInitializer is called once when it becomes active in a physical context
type ContainerInitializer interface {
	OnStartup(classes []string, ctx ServletContext) error
}

// Filter intercepts requests before they reach a servlet. Implementations call next to continue the chain.
type Filter interface {
	DoFilter(w http.ResponseWriter, r *http.Request, next http.Handler)
}

// FilterFunc adapts a function to a Filter
type FilterFunc func(w http.ResponseWriter, r *http.Request, next http.Handler)

func (f FilterFunc) DoFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	f(w, r, next)
}

// PatternType classifies servlet URL patterns
type PatternType int

const (
	PatternExact PatternType = iota
	PatternPrefix
	PatternExtension
	PatternDefault
	PatternRoot
)

// ClassifyURLPattern validates p according to servlet mapping rules and returns its type.
func ClassifyURLPattern(p string) (PatternType, error) {
	switch {
	case p == "":
		return PatternRoot, nil
	case p == "/":
		return PatternDefault, nil
	case strings.HasPrefix(p, "*."):
		ext := p[2:]
		if ext == "" || strings.ContainsAny(ext, "/*") {
			return 0, errors.Errorf("invalid extension pattern [%s]", p)
		}
		return PatternExtension, nil
	case strings.HasPrefix(p, "/"):
		if strings.HasSuffix(p, "/*") {
			if strings.Contains(p[:len(p)-2], "*") {
				return 0, errors.Errorf("invalid prefix pattern [%s]", p)
			}
			return PatternPrefix, nil
		}
		if strings.Contains(p, "*") {
			return 0, errors.Errorf("invalid exact pattern [%s]", p)
		}
		return PatternExact, nil
	}
	return 0, errors.Errorf("invalid url pattern [%s], must start with / or *.", p)
}

func validateElement(e *Element) error {
	if len(e.Contexts) == 0 {
		return errors.New("at least one context is required")
	}
	for _, ctx := range e.Contexts {
		if ctx == nil {
			return errors.New("nil context")
		}
	}
	return nil
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := ClassifyURLPattern(p); err != nil {
			return err
		}
	}
	return nil
}

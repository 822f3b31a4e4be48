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
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/openziti/xweb-registry/model"
)

// ServiceModel is the view one owner has of its own registrations. It only references models that are also held by
// the ServerModel and is discarded as a whole when the owner stops.
type ServiceModel struct {
	owner    model.Owner
	lock     sync.Mutex
	aliases  map[string]*model.ServletModel
	servlets map[string]*model.ServletModel
	filters  map[string]*model.FilterModel
	errors   map[string]*model.ErrorPageModel
	elements map[int64]model.ElementModel
	contexts map[string]*model.OsgiContextModel
}

func NewServiceModel(owner model.Owner) *ServiceModel {
	result := &ServiceModel{owner: owner}
	result.reset()
	return result
}

func (s *ServiceModel) reset() {
	s.aliases = map[string]*model.ServletModel{}
	s.servlets = map[string]*model.ServletModel{}
	s.filters = map[string]*model.FilterModel{}
	s.errors = map[string]*model.ErrorPageModel{}
	s.elements = map[int64]model.ElementModel{}
	s.contexts = map[string]*model.OsgiContextModel{}
}

func (s *ServiceModel) Owner() model.Owner {
	return s.owner
}

func (s *ServiceModel) addElement(e model.ElementModel) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.elements[e.Base().ServiceID] = e
	switch typed := e.(type) {
	case *model.ServletModel:
		s.servlets[typed.Name] = typed
		if typed.Alias != "" {
			s.aliases[typed.Alias] = typed
		}
	case *model.FilterModel:
		s.filters[typed.Name] = typed
	case *model.ErrorPageModel:
		s.errors[typed.Location] = typed
	}
}

func (s *ServiceModel) removeElement(e model.ElementModel) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.elements, e.Base().ServiceID)
	switch typed := e.(type) {
	case *model.ServletModel:
		if s.servlets[typed.Name] == typed {
			delete(s.servlets, typed.Name)
		}
		if typed.Alias != "" && s.aliases[typed.Alias] == typed {
			delete(s.aliases, typed.Alias)
		}
	case *model.FilterModel:
		if s.filters[typed.Name] == typed {
			delete(s.filters, typed.Name)
		}
	case *model.ErrorPageModel:
		if s.errors[typed.Location] == typed {
			delete(s.errors, typed.Location)
		}
	}
}

func (s *ServiceModel) addContext(ctx *model.OsgiContextModel) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.contexts[ctx.ID()] = ctx
}

func (s *ServiceModel) removeContext(ctx *model.OsgiContextModel) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.contexts, ctx.ID())
}

// conflicting returns the element of this owner that e would shadow in the name based lookups, or nil
func (s *ServiceModel) conflicting(e model.ElementModel) model.ElementModel {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch typed := e.(type) {
	case *model.ServletModel:
		if existing := s.servlets[typed.Name]; existing != nil {
			return existing
		}
		if existing := s.aliases[typed.Alias]; typed.Alias != "" && existing != nil {
			return existing
		}
	case *model.FilterModel:
		if existing := s.filters[typed.Name]; existing != nil {
			return existing
		}
	case *model.ErrorPageModel:
		if existing := s.errors[typed.Location]; existing != nil {
			return existing
		}
	}
	return nil
}

// ServletByAlias returns the servlet registered under alias or nil
func (s *ServiceModel) ServletByAlias(alias string) *model.ServletModel {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.aliases[alias]
}

// ServletByName returns the servlet registered with name or nil
func (s *ServiceModel) ServletByName(name string) *model.ServletModel {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.servlets[name]
}

// Filter returns the filter registered with name or nil
func (s *ServiceModel) Filter(name string) *model.FilterModel {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.filters[name]
}

// ErrorPage returns the error page model registered for location or nil
func (s *ServiceModel) ErrorPage(location string) *model.ErrorPageModel {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.errors[location]
}

// EventListener returns the model registered for listener or nil. Listeners are matched by identity, listeners
// of uncomparable types can only be removed through their model.
func (s *ServiceModel) EventListener(listener interface{}) *model.EventListenerModel {
	if listener == nil || !reflect.TypeOf(listener).Comparable() {
		return nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, e := range s.elements {
		if l, ok := e.(*model.EventListenerModel); ok && l.Listener == listener {
			return l
		}
	}
	return nil
}

// WelcomeFiles returns the model contributing exactly files or nil
func (s *ServiceModel) WelcomeFiles(files []string) *model.WelcomeFileModel {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, e := range s.elements {
		if w, ok := e.(*model.WelcomeFileModel); ok && slices.Equal(w.Files, files) {
			return w
		}
	}
	return nil
}

// Context returns the logical context with id registered by this owner or nil
func (s *ServiceModel) Context(id string) *model.OsgiContextModel {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.contexts[id]
}

// Elements returns every element registered by this owner, ordered by service id
func (s *ServiceModel) Elements() []model.ElementModel {
	s.lock.Lock()
	defer s.lock.Unlock()

	var result []model.ElementModel
	for _, e := range s.elements {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Base().ServiceID < result[j].Base().ServiceID
	})
	return result
}

// IsEmpty returns true if the owner has nothing registered
func (s *ServiceModel) IsEmpty() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.elements) == 0 && len(s.contexts) == 0
}

// Clear discards every reference
func (s *ServiceModel) Clear() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.reset()
}

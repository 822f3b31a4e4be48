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

	"github.com/pkg/errors"
)

const (
	DispatcherRequest = "REQUEST"
	DispatcherError   = "ERROR"
	DispatcherForward = "FORWARD"
)

// FilterModel describes a Filter. Filters only conflict by name; any number of them may be active for overlapping
// patterns and they are chained in ranking order.
type FilterModel struct {
	Element
	Name         string
	URLPatterns  []string
	ServletNames []string
	Dispatchers  []string
	Filter       Filter
	InitParams   map[string]string
}

var _ ElementModel = &FilterModel{}

func (m *FilterModel) Kind() Kind {
	return KindFilter
}

func (m *FilterModel) Keys() []string {
	return []string{"name:" + m.Name}
}

// HandlesDispatcher returns true if the filter applies to the given dispatcher type. Filters without explicit
// dispatchers only see REQUEST.
func (m *FilterModel) HandlesDispatcher(dispatcher string) bool {
	if len(m.Dispatchers) == 0 {
		return dispatcher == DispatcherRequest
	}
	for _, d := range m.Dispatchers {
		if d == dispatcher {
			return true
		}
	}
	return false
}

func (m *FilterModel) Validate() error {
	if m.Name == "" {
		return errors.New("filter name must not be empty")
	}
	if m.Filter == nil {
		return errors.Errorf("filter [%s] is nil", m.Name)
	}
	if len(m.URLPatterns) == 0 && len(m.ServletNames) == 0 {
		return errors.Errorf("filter [%s] has neither url patterns nor servlet names", m.Name)
	}
	if err := validatePatterns(m.URLPatterns); err != nil {
		return errors.Wrapf(err, "filter [%s]", m.Name)
	}
	for _, d := range m.Dispatchers {
		switch d {
		case DispatcherRequest, DispatcherError, DispatcherForward:
		default:
			return errors.Errorf("filter [%s] has unknown dispatcher type [%s]", m.Name, d)
		}
	}
	return validateElement(&m.Element)
}

func (m *FilterModel) String() string {
	return fmt.Sprintf("FilterModel{id=%d,name=%s,patterns=%v,rank=%d}", m.ServiceID, m.Name, m.URLPatterns, m.Rank)
}

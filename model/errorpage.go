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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	ErrorPage4xx     = "4xx"
	ErrorPage5xx     = "5xx"
	ErrorPageDefault = "default"
)

// ErrorPageModel maps error conditions to a location inside the context. Conditions are status codes (400-599),
// the ranges 4xx and 5xx, "default", or the type name of a value a servlet panicked with.
type ErrorPageModel struct {
	Element
	ErrorPages []string
	Location   string
}

var _ ElementModel = &ErrorPageModel{}

func (m *ErrorPageModel) Kind() Kind {
	return KindErrorPage
}

func (m *ErrorPageModel) Keys() []string {
	keys := make([]string, 0, len(m.ErrorPages))
	for _, ep := range m.ErrorPages {
		keys = append(keys, "error:"+ep)
	}
	return keys
}

func (m *ErrorPageModel) Validate() error {
	if len(m.ErrorPages) == 0 {
		return errors.New("error page model declares no error pages")
	}
	for _, ep := range m.ErrorPages {
		if err := ValidateErrorPage(ep); err != nil {
			return err
		}
	}
	if !strings.HasPrefix(m.Location, "/") {
		return errors.Errorf("error page location [%s] must start with /", m.Location)
	}
	return validateElement(&m.Element)
}

func (m *ErrorPageModel) String() string {
	return fmt.Sprintf("ErrorPageModel{id=%d,pages=%v,location=%s,rank=%d}", m.ServiceID, m.ErrorPages, m.Location, m.Rank)
}

// ValidateErrorPage checks a single error page declaration
func ValidateErrorPage(ep string) error {
	switch ep {
	case "":
		return errors.New("error page must not be empty")
	case ErrorPage4xx, ErrorPage5xx, ErrorPageDefault:
		return nil
	}
	if code, err := strconv.Atoi(ep); err == nil {
		if code < 400 || code > 599 {
			return errors.Errorf("error code [%d] must be within 400-599", code)
		}
		return nil
	}
	if strings.ContainsAny(ep, " \t/") {
		return errors.Errorf("invalid error page [%s], expected an error code or a type name", ep)
	}
	return nil
}

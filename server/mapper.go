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

package server

import (
	"path"
	"strings"

	"github.com/openziti/xweb-registry/model"
	"github.com/pkg/errors"
)

// match is the result of mapping a request path to a servlet
type match struct {
	servlet     *model.ServletModel
	servletPath string
	pathInfo    string
	isDefault   bool
}

// mapper maps context relative request paths to servlets following servlet mapping rules: exact match, longest
// prefix, extension, then the default servlet.
type mapper struct {
	exact      map[string]*model.ServletModel
	prefix     map[string]*model.ServletModel
	extension  map[string]*model.ServletModel
	defaultSrv *model.ServletModel
	root       *model.ServletModel
}

func newMapper() *mapper {
	return &mapper{
		exact:     map[string]*model.ServletModel{},
		prefix:    map[string]*model.ServletModel{},
		extension: map[string]*model.ServletModel{},
	}
}

func (m *mapper) add(s *model.ServletModel) error {
	var added []string
	for _, p := range s.URLPatterns {
		if err := m.addPattern(p, s); err != nil {
			for _, undo := range added {
				m.removePattern(undo, s)
			}
			return err
		}
		added = append(added, p)
	}
	return nil
}

func (m *mapper) addPattern(p string, s *model.ServletModel) error {
	patternType, err := model.ClassifyURLPattern(p)
	if err != nil {
		return err
	}

	var slot **model.ServletModel
	var table map[string]*model.ServletModel
	var key string
	switch patternType {
	case model.PatternRoot:
		slot = &m.root
	case model.PatternDefault:
		slot = &m.defaultSrv
	case model.PatternExtension:
		table, key = m.extension, p[2:]
	case model.PatternPrefix:
		table, key = m.prefix, strings.TrimSuffix(p, "/*")
	default:
		table, key = m.exact, p
	}

	if slot != nil {
		if *slot != nil && *slot != s {
			return errors.Errorf("pattern [%s] is already mapped to servlet [%s]", p, (*slot).Name)
		}
		*slot = s
		return nil
	}
	if existing, ok := table[key]; ok && existing != s {
		return errors.Errorf("pattern [%s] is already mapped to servlet [%s]", p, existing.Name)
	}
	table[key] = s
	return nil
}

func (m *mapper) remove(s *model.ServletModel) {
	for _, p := range s.URLPatterns {
		m.removePattern(p, s)
	}
}

func (m *mapper) removePattern(p string, s *model.ServletModel) {
	patternType, err := model.ClassifyURLPattern(p)
	if err != nil {
		return
	}
	removeFrom := func(table map[string]*model.ServletModel, key string) {
		if table[key] == s {
			delete(table, key)
		}
	}
	switch patternType {
	case model.PatternRoot:
		if m.root == s {
			m.root = nil
		}
	case model.PatternDefault:
		if m.defaultSrv == s {
			m.defaultSrv = nil
		}
	case model.PatternExtension:
		removeFrom(m.extension, p[2:])
	case model.PatternPrefix:
		removeFrom(m.prefix, strings.TrimSuffix(p, "/*"))
	default:
		removeFrom(m.exact, p)
	}
}

// find maps a context relative path (always starting with /)
func (m *mapper) find(relPath string) *match {
	if relPath == "/" && m.root != nil {
		return &match{servlet: m.root, pathInfo: "/"}
	}
	if s, ok := m.exact[relPath]; ok {
		return &match{servlet: s, servletPath: relPath}
	}

	for candidate := relPath; ; {
		if s, ok := m.prefix[candidate]; ok {
			return &match{servlet: s, servletPath: candidate, pathInfo: strings.TrimPrefix(relPath, candidate)}
		}
		idx := strings.LastIndex(candidate, "/")
		if idx <= 0 {
			if s, ok := m.prefix[""]; ok {
				return &match{servlet: s, pathInfo: relPath}
			}
			break
		}
		candidate = candidate[:idx]
	}

	if ext := path.Ext(relPath); ext != "" {
		if s, ok := m.extension[ext[1:]]; ok {
			return &match{servlet: s, servletPath: relPath}
		}
	}

	if m.defaultSrv != nil {
		return &match{servlet: m.defaultSrv, servletPath: relPath, isDefault: true}
	}
	return nil
}

// matches returns true if relPath is covered by the url pattern p
func matches(p, relPath string) bool {
	patternType, err := model.ClassifyURLPattern(p)
	if err != nil {
		return false
	}
	switch patternType {
	case model.PatternRoot:
		return relPath == "/"
	case model.PatternDefault:
		return true
	case model.PatternExtension:
		return strings.HasSuffix(relPath, p[1:])
	case model.PatternPrefix:
		prefix := strings.TrimSuffix(p, "/*")
		return prefix == "" || relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}
	return relPath == p
}

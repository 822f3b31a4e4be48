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
	"context"
	"net"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Demux routes http.Request requests to the physical context with the longest matching context path. Contexts
// whose default logical context is restricted to virtual hosts or connectors are skipped for requests that do not
// satisfy the restriction. The default logical context is added to the request context with a key of
// OsgiContextKey. Unmatched requests receive an empty response with http.StatusNotFound (404).
type Demux struct {
	lock     sync.RWMutex
	handlers map[string]*contextHandler
	// context paths, longest first
	paths []string
}

var _ http.Handler = &Demux{}

func NewDemux() *Demux {
	return &Demux{
		handlers: map[string]*contextHandler{},
	}
}

func (d *Demux) add(handler *contextHandler) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, ok := d.handlers[handler.path]; ok {
		return errors.Errorf("duplicate context path [%s]", handler.path)
	}
	d.handlers[handler.path] = handler
	d.paths = append(d.paths, handler.path)
	sort.Slice(d.paths, func(i, j int) bool {
		if len(d.paths[i]) != len(d.paths[j]) {
			return len(d.paths[i]) > len(d.paths[j])
		}
		return d.paths[i] < d.paths[j]
	})
	return nil
}

func (d *Demux) remove(path string) *contextHandler {
	d.lock.Lock()
	defer d.lock.Unlock()

	handler, ok := d.handlers[path]
	if !ok {
		return nil
	}
	delete(d.handlers, path)
	d.paths = slices.DeleteFunc(slices.Clone(d.paths), func(p string) bool { return p == path })
	return handler
}

func (d *Demux) get(path string) *contextHandler {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.handlers[path]
}

// Paths returns the context paths currently served
func (d *Demux) Paths() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	result := slices.Clone(d.paths)
	sort.Strings(result)
	return result
}

func (d *Demux) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if handler := d.route(request); handler != nil {
		//store the default logical context on the request context, useful for logging by downstream http handlers
		ctx := context.WithValue(request.Context(), OsgiContextKey, handler.defaultContext())
		handler.ServeHTTP(writer, request.WithContext(ctx))
		return
	}

	writer.WriteHeader(http.StatusNotFound)
	_, _ = writer.Write([]byte{})
}

func (d *Demux) route(request *http.Request) *contextHandler {
	d.lock.RLock()
	paths := d.paths
	handlers := d.handlers
	var candidates []*contextHandler
	for _, path := range paths {
		if contextPathMatches(path, request.URL.Path) {
			candidates = append(candidates, handlers[path])
		}
	}
	d.lock.RUnlock()

	for _, handler := range candidates {
		if accepts(handler, request) {
			return handler
		}
	}
	return nil
}

// accepts checks the virtual host and connector restrictions of the handler's default logical context. A handler
// without a default context is not serving.
func accepts(handler *contextHandler, request *http.Request) bool {
	osgiContext := handler.defaultContext()
	if osgiContext == nil {
		return false
	}

	if len(osgiContext.VirtualHosts) > 0 {
		host := request.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !slices.ContainsFunc(osgiContext.VirtualHosts, func(vh string) bool { return strings.EqualFold(vh, host) }) {
			return false
		}
	}

	if len(osgiContext.Connectors) > 0 {
		serverContext := ServerContextFromRequestContext(request.Context())
		if serverContext == nil || serverContext.ServerConfig == nil {
			return false
		}
		if !slices.Contains(osgiContext.Connectors, serverContext.ServerConfig.Name) {
			return false
		}
	}

	return true
}

func contextPathMatches(contextPath, requestPath string) bool {
	if contextPath == "/" {
		return true
	}
	return requestPath == contextPath || strings.HasPrefix(requestPath, contextPath+"/")
}

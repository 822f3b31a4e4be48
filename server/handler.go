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
	"fmt"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/debugz"
	"github.com/openziti/xweb-registry/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// contextHandler is the live counterpart of a physical context. It holds the elements that are active at its path
// and serves every request the Demux routes to it.
type contextHandler struct {
	path string

	lock          sync.RWMutex
	defaultCtx    *model.OsgiContextModel
	mapper        *mapper
	servlets      map[int64]*model.ServletModel
	filters       []*model.FilterModel
	errorPages    map[string]*model.ErrorPageModel
	welcomeFiles  []*model.WelcomeFileModel
	websockets    map[string]*model.WebSocketModel
	constraints   []*model.SecurityConstraintModel
	listeners     map[int64]*model.EventListenerModel
	initializers  map[int64]*model.ContainerInitializerModel
	attributeLock sync.Mutex
	attributes    map[string]interface{}
}

var _ model.ServletContext = &contextHandler{}

func newContextHandler(path string) *contextHandler {
	return &contextHandler{
		path:         path,
		mapper:       newMapper(),
		servlets:     map[int64]*model.ServletModel{},
		errorPages:   map[string]*model.ErrorPageModel{},
		websockets:   map[string]*model.WebSocketModel{},
		listeners:    map[int64]*model.EventListenerModel{},
		initializers: map[int64]*model.ContainerInitializerModel{},
		attributes:   map[string]interface{}{},
	}
}

func (h *contextHandler) ContextPath() string {
	if h.path == "/" {
		return ""
	}
	return h.path
}

func (h *contextHandler) InitParameter(name string) string {
	if ctx := h.defaultContext(); ctx != nil {
		return ctx.InitParams[name]
	}
	return ""
}

func (h *contextHandler) Attribute(name string) interface{} {
	h.attributeLock.Lock()
	defer h.attributeLock.Unlock()
	if val, ok := h.attributes[name]; ok {
		return val
	}
	if ctx := h.defaultContext(); ctx != nil {
		return ctx.Attributes[name]
	}
	return nil
}

func (h *contextHandler) SetAttribute(name string, value interface{}) {
	h.attributeLock.Lock()
	defer h.attributeLock.Unlock()
	h.attributes[name] = value
}

func (h *contextHandler) defaultContext() *model.OsgiContextModel {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.defaultCtx
}

func (h *contextHandler) setDefaultContext(ctx *model.OsgiContextModel) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.defaultCtx = ctx
}

func (h *contextHandler) clearDefaultContext(ctx *model.OsgiContextModel) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.defaultCtx != nil && h.defaultCtx.ID() == ctx.ID() {
		h.defaultCtx = nil
	}
}

func (h *contextHandler) setFilterChain(chain []*model.FilterModel) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.filters = append([]*model.FilterModel(nil), chain...)
}

// install makes e active in this context. Nothing is changed if an error is returned.
func (h *contextHandler) install(e model.ElementModel) error {
	switch typed := e.(type) {
	case *model.ContainerInitializerModel:
		// runs before the initializer becomes visible so a failure leaves no trace
		if err := typed.Initializer.OnStartup(typed.Classes, h); err != nil {
			return errors.Wrapf(err, "container initializer %d failed in context [%s]", typed.ServiceID, h.path)
		}
	}

	h.lock.Lock()
	err := h.installLocked(e)
	h.lock.Unlock()
	if err != nil {
		return err
	}

	if typed, ok := e.(*model.EventListenerModel); ok {
		if listener, ok := typed.Listener.(model.ContextListener); ok {
			listener.ContextInitialized(h)
		}
	}
	return nil
}

func (h *contextHandler) installLocked(e model.ElementModel) error {
	switch typed := e.(type) {
	case *model.ServletModel:
		if err := h.mapper.add(typed); err != nil {
			return errors.Wrapf(err, "cannot install servlet [%s] in context [%s]", typed.Name, h.path)
		}
		h.servlets[typed.ServiceID] = typed
	case *model.FilterModel:
		// chains are replaced as a whole by filter state changes
	case *model.ErrorPageModel:
		for _, ep := range typed.ErrorPages {
			if existing, ok := h.errorPages[ep]; ok && existing != typed {
				return errors.Errorf("error page [%s] in context [%s] is already handled by [%s]", ep, h.path, existing.Location)
			}
		}
		for _, ep := range typed.ErrorPages {
			h.errorPages[ep] = typed
		}
	case *model.EventListenerModel:
		h.listeners[typed.ServiceID] = typed
	case *model.WelcomeFileModel:
		// copy on write, requests iterate the slice without holding the lock
		welcomeFiles := append(slices.Clone(h.welcomeFiles), typed)
		model.SortByRanking(welcomeFiles)
		h.welcomeFiles = welcomeFiles
	case *model.ContainerInitializerModel:
		h.initializers[typed.ServiceID] = typed
	case *model.WebSocketModel:
		if existing, ok := h.websockets[typed.Path]; ok && existing != typed {
			return errors.Errorf("web socket path [%s] in context [%s] is already in use", typed.Path, h.path)
		}
		h.websockets[typed.Path] = typed
	case *model.SecurityConstraintModel:
		constraints := append(slices.Clone(h.constraints), typed)
		model.SortByRanking(constraints)
		h.constraints = constraints
	default:
		return errors.Errorf("unsupported element %s", e)
	}
	return nil
}

// uninstall removes e from this context, it is a no-op for elements that are not installed.
func (h *contextHandler) uninstall(e model.ElementModel) {
	var destroyed model.ContextListener

	h.lock.Lock()
	switch typed := e.(type) {
	case *model.ServletModel:
		if _, ok := h.servlets[typed.ServiceID]; ok {
			h.mapper.remove(typed)
			delete(h.servlets, typed.ServiceID)
		}
	case *model.ErrorPageModel:
		for _, ep := range typed.ErrorPages {
			if h.errorPages[ep] == typed {
				delete(h.errorPages, ep)
			}
		}
	case *model.EventListenerModel:
		if _, ok := h.listeners[typed.ServiceID]; ok {
			delete(h.listeners, typed.ServiceID)
			destroyed, _ = typed.Listener.(model.ContextListener)
		}
	case *model.WelcomeFileModel:
		h.welcomeFiles = slices.DeleteFunc(slices.Clone(h.welcomeFiles), func(w *model.WelcomeFileModel) bool { return w == typed })
	case *model.ContainerInitializerModel:
		delete(h.initializers, typed.ServiceID)
	case *model.WebSocketModel:
		if h.websockets[typed.Path] == typed {
			delete(h.websockets, typed.Path)
		}
	case *model.SecurityConstraintModel:
		h.constraints = slices.DeleteFunc(slices.Clone(h.constraints), func(c *model.SecurityConstraintModel) bool { return c == typed })
	}
	h.lock.Unlock()

	if destroyed != nil {
		destroyed.ContextDestroyed(h)
	}
}

// destroy notifies all remaining listeners that the context is going away
func (h *contextHandler) destroy() {
	h.lock.Lock()
	var listeners []*model.EventListenerModel
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.listeners = map[int64]*model.EventListenerModel{}
	h.lock.Unlock()

	model.SortByRanking(listeners)
	for _, l := range listeners {
		if listener, ok := l.Listener.(model.ContextListener); ok {
			listener.ContextDestroyed(h)
		}
	}
}

// relativePath strips the context path from the request path
func (h *contextHandler) relativePath(requestPath string) string {
	if h.path == "/" {
		if requestPath == "" {
			return "/"
		}
		return requestPath
	}
	rel := strings.TrimPrefix(requestPath, h.path)
	if rel == "" {
		return "/"
	}
	return rel
}

func (h *contextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := h.relativePath(r.URL.Path)

	h.lock.RLock()
	defaultCtx := h.defaultCtx
	constraints := h.constraints
	websocket := h.websockets[rel]
	h.lock.RUnlock()

	if defaultCtx != nil && defaultCtx.Context != nil {
		var ok bool
		if r, ok = defaultCtx.Context.HandleSecurity(w, r); !ok {
			return
		}
	}

	if status := h.checkConstraints(constraints, rel, r); status != 0 {
		h.sendError(w, r, status, nil)
		return
	}

	if websocket != nil {
		websocket.Handler.ServeHTTP(w, r)
		return
	}

	h.dispatch(w, r, rel)
}

// checkConstraints returns the status to reject the request with or 0 if it may proceed
func (h *contextHandler) checkConstraints(constraints []*model.SecurityConstraintModel, rel string, r *http.Request) int {
	roles, authenticated := model.RolesFromContext(r.Context())
	for _, c := range constraints {
		if !c.AppliesTo(r.Method) || !matchesAny(c.URLPatterns, rel) {
			continue
		}
		if c.TransportGuarantee == model.TransportGuaranteeConfidential && r.TLS == nil {
			return http.StatusForbidden
		}
		if !c.Permits(roles, authenticated) {
			if !authenticated {
				return http.StatusUnauthorized
			}
			return http.StatusForbidden
		}
	}
	return 0
}

func (h *contextHandler) dispatch(w http.ResponseWriter, r *http.Request, rel string) {
	found := h.findServlet(rel)

	if strings.HasSuffix(rel, "/") && (found == nil || found.isDefault) {
		if target, redirect, ok := h.welcomeFile(rel); ok {
			if redirect {
				http.Redirect(w, r, h.ContextPath()+target, http.StatusFound)
				return
			}
			if welcome := h.findServlet(target); welcome != nil {
				rel, found = target, welcome
				r = r.Clone(r.Context())
				r.URL.Path = h.ContextPath() + target
			}
		}
	}

	if found == nil {
		h.sendError(w, r, http.StatusNotFound, nil)
		return
	}

	interceptor := &errorInterceptor{ResponseWriter: w, handler: h}
	func() {
		defer func() {
			if panicVal := recover(); panicVal != nil {
				if interceptor.wroteBody {
					pfxlog.Logger().WithField("contextPath", h.path).Errorf("panic after response was committed: %v\n%v", panicVal, debugz.GenerateLocalStack())
					return
				}
				interceptor.discard()
				h.sendError(w, r, http.StatusInternalServerError, panicVal)
			}
		}()
		h.chain(found, rel, model.DispatcherRequest).ServeHTTP(interceptor, r)
	}()

	if interceptor.intercepted != 0 {
		h.sendError(w, r, interceptor.intercepted, nil)
	}
}

func (h *contextHandler) findServlet(rel string) *match {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.mapper.find(rel)
}

// welcomeFile returns the first welcome file below dir that maps to a servlet or exists as a resource
func (h *contextHandler) welcomeFile(dir string) (string, bool, bool) {
	h.lock.RLock()
	welcomeFiles := h.welcomeFiles
	defaultCtx := h.defaultCtx
	h.lock.RUnlock()

	for _, wf := range welcomeFiles {
		for _, file := range wf.Files {
			target := path.Join(dir, file)
			if found := h.findServlet(target); found != nil && !found.isDefault {
				return target, wf.Redirect, true
			}
			if defaultCtx != nil && defaultCtx.Context != nil && defaultCtx.Context.Resources() != nil {
				if f, err := defaultCtx.Context.Resources().Open(target); err == nil {
					_ = f.Close()
					return target, wf.Redirect, true
				}
			}
		}
	}
	return "", false, false
}

// chain builds the filter chain for servlet m ending in the servlet itself
func (h *contextHandler) chain(m *match, rel string, dispatcher string) http.Handler {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveServlet(w, r, m)
	})

	h.lock.RLock()
	filters := h.filters
	h.lock.RUnlock()

	for i := len(filters) - 1; i >= 0; i-- {
		filter := filters[i]
		if !filter.HandlesDispatcher(dispatcher) {
			continue
		}
		if !matchesAny(filter.URLPatterns, rel) && !slices.Contains(filter.ServletNames, m.servlet.Name) {
			continue
		}
		next := handler
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			filter.Filter.DoFilter(w, r, next)
		})
	}
	return handler
}

func (h *contextHandler) serveServlet(w http.ResponseWriter, r *http.Request, m *match) {
	if !m.servlet.IsResource() {
		m.servlet.Servlet.ServeHTTP(w, r)
		return
	}

	defaultCtx := h.defaultContext()
	if defaultCtx == nil || defaultCtx.Context == nil || defaultCtx.Context.Resources() == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	name := m.pathInfo
	if name == "" || name == "/" {
		name = m.servletPath
	}
	name = path.Join("/", m.servlet.ResourceBase, name)

	f, err := defaultCtx.Context.Resources().Open(name)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if mimeType := defaultCtx.Context.MimeType(name); mimeType != "" {
		w.Header().Set("Content-Type", mimeType)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// errorPage finds the error page for a panic value or status code: exact code, then range, then default.
func (h *contextHandler) errorPage(status int, panicVal interface{}) *model.ErrorPageModel {
	h.lock.RLock()
	defer h.lock.RUnlock()

	var keys []string
	if panicVal != nil {
		keys = append(keys, fmt.Sprintf("%T", panicVal))
	}
	keys = append(keys, strconv.Itoa(status))
	switch {
	case status >= 500:
		keys = append(keys, model.ErrorPage5xx)
	case status >= 400:
		keys = append(keys, model.ErrorPage4xx)
	}
	keys = append(keys, model.ErrorPageDefault)

	for _, key := range keys {
		if ep, ok := h.errorPages[key]; ok {
			return ep
		}
	}
	return nil
}

func (h *contextHandler) hasErrorPage(status int) bool {
	return h.errorPage(status, nil) != nil
}

// sendError renders the error page registered for status (or panicVal) keeping the original status code
func (h *contextHandler) sendError(w http.ResponseWriter, r *http.Request, status int, panicVal interface{}) {
	logger := pfxlog.Logger().WithFields(logrus.Fields{
		"contextPath": h.path,
		"status":      status,
		"uri":         r.RequestURI,
	})

	if panicVal != nil {
		logger.Errorf("panic caught by context handler: %v\n%v", panicVal, debugz.GenerateLocalStack())
	}

	ep := h.errorPage(status, panicVal)
	if ep == nil || ErrorFromRequestContext(r.Context()) != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}

	found := h.findServlet(ep.Location)
	if found == nil {
		logger.Warnf("error page location [%s] is not mapped to a servlet", ep.Location)
		http.Error(w, http.StatusText(status), status)
		return
	}

	info := &ErrorInfo{
		StatusCode: status,
		RequestURI: r.RequestURI,
		PanicValue: panicVal,
	}
	errorRequest := r.Clone(context.WithValue(r.Context(), ErrorContextKey, info))
	errorRequest.URL.Path = h.ContextPath() + ep.Location

	defer func() {
		if nested := recover(); nested != nil {
			logger.Errorf("panic while rendering error page [%s]: %v", ep.Location, nested)
		}
	}()
	h.chain(found, ep.Location, model.DispatcherError).ServeHTTP(&statusWriter{ResponseWriter: w, status: status}, errorRequest)
}

// errorInterceptor swallows error responses of servlets for which an error page is registered so the page can be
// rendered instead.
type errorInterceptor struct {
	http.ResponseWriter
	handler     *contextHandler
	intercepted int
	wroteHeader bool
	wroteBody   bool
}

func (w *errorInterceptor) WriteHeader(status int) {
	if w.wroteHeader || w.intercepted != 0 {
		return
	}
	if status >= 400 && w.handler.hasErrorPage(status) {
		w.intercepted = status
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *errorInterceptor) Write(b []byte) (int, error) {
	if w.intercepted != 0 {
		return len(b), nil
	}
	w.wroteHeader = true
	w.wroteBody = true
	return w.ResponseWriter.Write(b)
}

func (w *errorInterceptor) Flush() {
	if w.intercepted != 0 {
		return
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wroteHeader = true
		w.wroteBody = true
		flusher.Flush()
	}
}

// discard drops headers a failed servlet may have set before the error page is rendered
func (w *errorInterceptor) discard() {
	if w.wroteHeader {
		return
	}
	for key := range w.Header() {
		delete(w.Header(), key)
	}
}

// statusWriter forces the status of an error dispatch
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(w.status)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.WriteHeader(w.status)
	return w.ResponseWriter.Write(b)
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if matches(p, rel) {
			return true
		}
	}
	return false
}

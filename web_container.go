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
	"net/http"
	"sync"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/model"
	"github.com/pkg/errors"
)

const DefaultContextName = "default"

// RegistrationOption customizes a registration made through a WebContainer
type RegistrationOption func(o *registrationOptions)

type registrationOptions struct {
	name           string
	rank           int
	serviceID      int64
	initParams     map[string]string
	contexts       []model.WebContainerContext
	dispatchers    []string
	servletNames   []string
	asyncSupported bool
	virtualHosts   []string
	connectors     []string
	attributes     map[string]interface{}
}

// WithName overrides the servlet name, which defaults to the alias
func WithName(name string) RegistrationOption {
	return func(o *registrationOptions) { o.name = name }
}

// WithRank sets the service ranking
func WithRank(rank int) RegistrationOption {
	return func(o *registrationOptions) { o.rank = rank }
}

// WithServiceID sets an explicit service id instead of a generated one
func WithServiceID(id int64) RegistrationOption {
	return func(o *registrationOptions) { o.serviceID = id }
}

func WithInitParams(params map[string]string) RegistrationOption {
	return func(o *registrationOptions) { o.initParams = params }
}

// WithContexts targets the given contexts instead of the container's default context
func WithContexts(contexts ...model.WebContainerContext) RegistrationOption {
	return func(o *registrationOptions) { o.contexts = append(o.contexts, contexts...) }
}

func WithDispatchers(dispatchers ...string) RegistrationOption {
	return func(o *registrationOptions) { o.dispatchers = dispatchers }
}

// WithServletNames maps a filter to servlets by name in addition to its url patterns
func WithServletNames(names ...string) RegistrationOption {
	return func(o *registrationOptions) { o.servletNames = names }
}

func WithAsyncSupported() RegistrationOption {
	return func(o *registrationOptions) { o.asyncSupported = true }
}

// WithVirtualHosts restricts a registered context to the given hosts
func WithVirtualHosts(hosts ...string) RegistrationOption {
	return func(o *registrationOptions) { o.virtualHosts = hosts }
}

// WithConnectors restricts a registered context to the named bind points
func WithConnectors(connectors ...string) RegistrationOption {
	return func(o *registrationOptions) { o.connectors = connectors }
}

// WithAttributes passes configuration through to the server backend
func WithAttributes(attributes map[string]interface{}) RegistrationOption {
	return func(o *registrationOptions) { o.attributes = attributes }
}

func newRegistrationOptions(opts []RegistrationOption) *registrationOptions {
	result := &registrationOptions{}
	for _, opt := range opts {
		opt(result)
	}
	return result
}

type transaction struct {
	ops     []Operation
	commits []func()
}

// WebContainer is the registration facade one owner uses. Everything it registers is tracked in its
// ServiceModel and removed again by Stop.
//
// Registrations targeting a context with an open transaction (see Begin) are deferred until End sends them as
// a single batch. Validation errors of deferred registrations are reported by End.
type WebContainer struct {
	owner      model.Owner
	server     *ServerModel
	controller ServerController
	service    *ServiceModel

	lock           sync.Mutex
	stopped        bool
	defaultContext model.WebContainerContext
	transactions   map[string]*transaction
}

func NewWebContainer(owner model.Owner, server *ServerModel, controller ServerController) *WebContainer {
	return &WebContainer{
		owner:        owner,
		server:       server,
		controller:   controller,
		service:      NewServiceModel(owner),
		transactions: map[string]*transaction{},
	}
}

func (wc *WebContainer) Owner() model.Owner {
	return wc.owner
}

// ServiceModel returns the registrations of this container's owner
func (wc *WebContainer) ServiceModel() *ServiceModel {
	return wc.service
}

// CreateDefaultContext returns a new context backed by no resources that allows every request
func (wc *WebContainer) CreateDefaultContext() model.WebContainerContext {
	return model.NewDefaultContext(DefaultContextName, nil)
}

func (wc *WebContainer) getDefaultContext() model.WebContainerContext {
	wc.lock.Lock()
	defer wc.lock.Unlock()
	if wc.defaultContext == nil {
		wc.defaultContext = wc.CreateDefaultContext()
	}
	return wc.defaultContext
}

// RegisterContext binds wctx to path with the given ranking, init parameters and host restrictions
func (wc *WebContainer) RegisterContext(wctx model.WebContainerContext, path string, opts ...RegistrationOption) (*model.OsgiContextModel, error) {
	if wctx == nil {
		return nil, validationErrorf("web container context must not be nil")
	}
	o := newRegistrationOptions(opts)
	ctx := &model.OsgiContextModel{
		Ranking:      model.Ranking{Rank: o.rank, ServiceID: o.serviceID},
		Name:         wctx.ContextID(),
		Owner:        wc.owner,
		Path:         path,
		Context:      wctx,
		InitParams:   o.initParams,
		VirtualHosts: o.virtualHosts,
		Connectors:   o.connectors,
		Attributes:   o.attributes,
		Shared:       wctx.Shared(),
	}

	var registered *model.OsgiContextModel
	op := func(m *ServerModel, b *batch.Batch) error {
		var err error
		registered, err = m.addOsgiContextModel(b, ctx)
		return err
	}
	commit := func() {
		if registered.Owner == wc.owner {
			wc.service.addContext(registered)
		}
	}
	if err := wc.execute("register context "+ctx.ID(), []model.WebContainerContext{wctx}, op, commit); err != nil {
		return nil, err
	}
	if registered == nil {
		// deferred into a transaction
		return ctx, nil
	}
	return registered, nil
}

// UnregisterContext removes the logical context of this owner for wctx
func (wc *WebContainer) UnregisterContext(wctx model.WebContainerContext) error {
	if wctx == nil {
		return validationErrorf("web container context must not be nil")
	}
	id := model.ContextID(wctx.ContextID(), wc.owner, wctx.Shared())
	ctx := wc.service.Context(id)
	if ctx == nil {
		return errors.Wrapf(ErrNotRegistered, "context [%s]", id)
	}
	op := func(m *ServerModel, b *batch.Batch) error {
		return m.removeOsgiContextModel(b, id)
	}
	return wc.execute("unregister context "+id, []model.WebContainerContext{wctx}, op, func() {
		wc.service.removeContext(ctx)
	})
}

// RegisterServlet maps servlet to alias and everything below it
func (wc *WebContainer) RegisterServlet(alias string, servlet http.Handler, opts ...RegistrationOption) (*model.ServletModel, error) {
	if err := model.ValidateAlias(alias); err != nil {
		return nil, &ValidationError{Reason: "servlet rejected", Err: err}
	}
	if servlet == nil {
		return nil, validationErrorf("servlet for alias [%s] must not be nil", alias)
	}
	o := newRegistrationOptions(opts)
	name := o.name
	if name == "" {
		name = alias
	}
	s := &model.ServletModel{
		Name:           name,
		Alias:          alias,
		URLPatterns:    model.AliasToPatterns(alias),
		Servlet:        servlet,
		InitParams:     o.initParams,
		AsyncSupported: o.asyncSupported,
	}
	if err := wc.registerElement(s, o); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterServletPatterns maps servlet to explicit url patterns
func (wc *WebContainer) RegisterServletPatterns(name string, servlet http.Handler, patterns []string, opts ...RegistrationOption) (*model.ServletModel, error) {
	if servlet == nil {
		return nil, validationErrorf("servlet [%s] must not be nil", name)
	}
	o := newRegistrationOptions(opts)
	s := &model.ServletModel{
		Name:           name,
		URLPatterns:    patterns,
		Servlet:        servlet,
		InitParams:     o.initParams,
		AsyncSupported: o.asyncSupported,
	}
	if err := wc.registerElement(s, o); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterResources serves the resources below base of the target context under alias
func (wc *WebContainer) RegisterResources(alias, base string, opts ...RegistrationOption) (*model.ServletModel, error) {
	if err := model.ValidateAlias(alias); err != nil {
		return nil, &ValidationError{Reason: "resources rejected", Err: err}
	}
	if base == "" {
		base = "/"
	}
	o := newRegistrationOptions(opts)
	name := o.name
	if name == "" {
		name = alias
	}
	s := &model.ServletModel{
		Name:         name,
		Alias:        alias,
		URLPatterns:  model.AliasToPatterns(alias),
		ResourceBase: base,
		InitParams:   o.initParams,
	}
	if err := wc.registerElement(s, o); err != nil {
		return nil, err
	}
	return s, nil
}

// Unregister removes the servlet or resources registered under alias
func (wc *WebContainer) Unregister(alias string) error {
	s := wc.service.ServletByAlias(alias)
	if s == nil {
		return errors.Wrapf(ErrNotRegistered, "alias [%s]", alias)
	}
	return wc.UnregisterElement(s)
}

// UnregisterServlet removes the servlet registered with name
func (wc *WebContainer) UnregisterServlet(name string) error {
	s := wc.service.ServletByName(name)
	if s == nil {
		return errors.Wrapf(ErrNotRegistered, "servlet [%s]", name)
	}
	return wc.UnregisterElement(s)
}

// RegisterFilter registers filter for the url patterns (and servlet names, see WithServletNames)
func (wc *WebContainer) RegisterFilter(name string, filter model.Filter, patterns []string, opts ...RegistrationOption) (*model.FilterModel, error) {
	o := newRegistrationOptions(opts)
	f := &model.FilterModel{
		Name:         name,
		URLPatterns:  patterns,
		ServletNames: o.servletNames,
		Dispatchers:  o.dispatchers,
		Filter:       filter,
		InitParams:   o.initParams,
	}
	if err := wc.registerElement(f, o); err != nil {
		return nil, err
	}
	return f, nil
}

func (wc *WebContainer) UnregisterFilter(name string) error {
	f := wc.service.Filter(name)
	if f == nil {
		return errors.Wrapf(ErrNotRegistered, "filter [%s]", name)
	}
	return wc.UnregisterElement(f)
}

// RegisterErrorPages maps the error conditions to location
func (wc *WebContainer) RegisterErrorPages(location string, errorPages []string, opts ...RegistrationOption) (*model.ErrorPageModel, error) {
	o := newRegistrationOptions(opts)
	ep := &model.ErrorPageModel{
		ErrorPages: errorPages,
		Location:   location,
	}
	if err := wc.registerElement(ep, o); err != nil {
		return nil, err
	}
	return ep, nil
}

func (wc *WebContainer) UnregisterErrorPages(location string) error {
	ep := wc.service.ErrorPage(location)
	if ep == nil {
		return errors.Wrapf(ErrNotRegistered, "error page [%s]", location)
	}
	return wc.UnregisterElement(ep)
}

func (wc *WebContainer) RegisterEventListener(listener interface{}, opts ...RegistrationOption) (*model.EventListenerModel, error) {
	l := &model.EventListenerModel{Listener: listener}
	if err := wc.registerElement(l, newRegistrationOptions(opts)); err != nil {
		return nil, err
	}
	return l, nil
}

// UnregisterEventListener removes the model registered for listener
func (wc *WebContainer) UnregisterEventListener(listener interface{}) error {
	l := wc.service.EventListener(listener)
	if l == nil {
		return errors.Wrapf(ErrNotRegistered, "event listener %T", listener)
	}
	return wc.UnregisterElement(l)
}

func (wc *WebContainer) RegisterWelcomeFiles(files []string, redirect bool, opts ...RegistrationOption) (*model.WelcomeFileModel, error) {
	w := &model.WelcomeFileModel{Files: files, Redirect: redirect}
	if err := wc.registerElement(w, newRegistrationOptions(opts)); err != nil {
		return nil, err
	}
	return w, nil
}

func (wc *WebContainer) UnregisterWelcomeFiles(files []string) error {
	w := wc.service.WelcomeFiles(files)
	if w == nil {
		return errors.Wrapf(ErrNotRegistered, "welcome files %v", files)
	}
	return wc.UnregisterElement(w)
}

func (wc *WebContainer) RegisterContainerInitializer(initializer model.ContainerInitializer, classes []string, opts ...RegistrationOption) (*model.ContainerInitializerModel, error) {
	i := &model.ContainerInitializerModel{Initializer: initializer, Classes: classes}
	if err := wc.registerElement(i, newRegistrationOptions(opts)); err != nil {
		return nil, err
	}
	return i, nil
}

func (wc *WebContainer) RegisterWebSocket(path string, handler http.Handler, opts ...RegistrationOption) (*model.WebSocketModel, error) {
	ws := &model.WebSocketModel{Path: path, Handler: handler}
	if err := wc.registerElement(ws, newRegistrationOptions(opts)); err != nil {
		return nil, err
	}
	return ws, nil
}

// RegisterSecurityConstraint registers a constraint described by name, patterns, methods and roles
func (wc *WebContainer) RegisterSecurityConstraint(constraint *model.SecurityConstraintModel, opts ...RegistrationOption) error {
	if constraint == nil {
		return validationErrorf("security constraint must not be nil")
	}
	return wc.registerElement(constraint, newRegistrationOptions(opts))
}

// UnregisterElement removes any element previously registered through this container
func (wc *WebContainer) UnregisterElement(e model.ElementModel) error {
	if e == nil {
		return validationErrorf("element must not be nil")
	}
	if e.Base().Owner != wc.owner {
		return errors.Wrapf(ErrNotRegistered, "%s is not owned by [%s]", e, wc.owner)
	}
	id := e.Base().ServiceID
	op := func(m *ServerModel, b *batch.Batch) error {
		return m.removeElement(b, id)
	}
	return wc.execute("unregister "+e.String(), contextsOf(e.Base().Contexts), op, func() {
		wc.service.removeElement(e)
	})
}

func (wc *WebContainer) registerElement(e model.ElementModel, o *registrationOptions) error {
	targets := o.contexts
	if len(targets) == 0 {
		targets = []model.WebContainerContext{wc.getDefaultContext()}
	}

	if existing := wc.service.conflicting(e); existing != nil {
		return validationErrorf("%s is already registered by [%s] as %s", e.Kind(), wc.owner, existing)
	}

	base := e.Base()
	base.Owner = wc.owner
	base.Ranking = model.Ranking{Rank: o.rank, ServiceID: o.serviceID}

	var contexts []*model.OsgiContextModel
	op := func(m *ServerModel, b *batch.Batch) error {
		contexts = nil
		for _, wctx := range targets {
			ctx, err := m.getOrCreateOsgiContextModel(b, wctx, wc.owner, "")
			if err != nil {
				return err
			}
			contexts = append(contexts, ctx)
		}
		base.Contexts = contexts
		return m.addElement(b, e)
	}
	commit := func() {
		wc.service.addElement(e)
		for _, ctx := range contexts {
			if ctx.Owner == wc.owner {
				wc.service.addContext(ctx)
			}
		}
	}
	return wc.execute("register "+e.Kind().String(), targets, op, commit)
}

// execute runs op right away or defers it into the open transaction of one of the targeted contexts
func (wc *WebContainer) execute(description string, targets []model.WebContainerContext, op Operation, commit func()) error {
	op = wc.unlessStopped(op)

	wc.lock.Lock()
	if wc.stopped {
		wc.lock.Unlock()
		return ErrContainerStopped
	}
	for _, wctx := range targets {
		if tx, found := wc.transactions[wc.transactionKey(wctx)]; found {
			tx.ops = append(tx.ops, op)
			tx.commits = append(tx.commits, commit)
			wc.lock.Unlock()
			return nil
		}
	}
	wc.lock.Unlock()

	if _, err := wc.server.Execute(wc.controller, description, op); err != nil {
		return err
	}
	wc.commit(commit)
	return nil
}

// unlessStopped makes op fail once the container is stopped. The check runs under the serialization of Execute,
// so op either completes before the cleanup done by Stop or is rejected.
func (wc *WebContainer) unlessStopped(op Operation) Operation {
	return func(m *ServerModel, b *batch.Batch) error {
		wc.lock.Lock()
		stopped := wc.stopped
		wc.lock.Unlock()
		if stopped {
			return ErrContainerStopped
		}
		return op(m, b)
	}
}

// commit records executed registrations in the service model unless Stop has discarded it since
func (wc *WebContainer) commit(commits ...func()) {
	wc.lock.Lock()
	defer wc.lock.Unlock()
	if wc.stopped {
		return
	}
	for _, commit := range commits {
		commit()
	}
}

// Begin opens a transaction for wctx: registrations targeting it are collected until End
func (wc *WebContainer) Begin(wctx model.WebContainerContext) error {
	if wctx == nil {
		wctx = wc.getDefaultContext()
	}
	wc.lock.Lock()
	defer wc.lock.Unlock()

	if wc.stopped {
		return ErrContainerStopped
	}
	key := wc.transactionKey(wctx)
	if _, found := wc.transactions[key]; found {
		return errors.Wrapf(ErrTransactionOpen, "context [%s]", key)
	}
	wc.transactions[key] = &transaction{}
	return nil
}

// End sends everything collected since Begin as one batch. If any part fails nothing is registered.
func (wc *WebContainer) End(wctx model.WebContainerContext) error {
	if wctx == nil {
		wctx = wc.getDefaultContext()
	}
	key := wc.transactionKey(wctx)

	wc.lock.Lock()
	tx, found := wc.transactions[key]
	delete(wc.transactions, key)
	stopped := wc.stopped
	wc.lock.Unlock()

	if !found {
		return errors.Wrapf(ErrNoTransaction, "context [%s]", key)
	}
	if stopped {
		return ErrContainerStopped
	}
	if len(tx.ops) == 0 {
		return nil
	}
	if _, err := wc.server.Execute(wc.controller, "transaction "+key, tx.ops...); err != nil {
		return err
	}
	wc.commit(tx.commits...)
	return nil
}

// Stop removes everything this container registered. The container rejects registrations afterwards.
func (wc *WebContainer) Stop() error {
	wc.lock.Lock()
	if wc.stopped {
		wc.lock.Unlock()
		return nil
	}
	wc.stopped = true
	wc.transactions = map[string]*transaction{}
	wc.lock.Unlock()

	err := wc.server.CleanBundle(wc.controller, wc.owner)
	wc.service.Clear()
	if err != nil {
		pfxlog.Logger().WithField("owner", wc.owner).WithError(err).Warn("cleanup of stopped web container was incomplete")
	}
	return err
}

// Direct returns a view registering models without going through the HttpService style facade
func (wc *WebContainer) Direct() *DirectWebContainerView {
	return &DirectWebContainerView{container: wc}
}

func (wc *WebContainer) transactionKey(wctx model.WebContainerContext) string {
	return model.ContextID(wctx.ContextID(), wc.owner, wctx.Shared())
}

func contextsOf(contexts []*model.OsgiContextModel) []model.WebContainerContext {
	var result []model.WebContainerContext
	for _, ctx := range contexts {
		if ctx.Context != nil {
			result = append(result, ctx.Context)
		}
	}
	return result
}

// DirectWebContainerView registers prepared models. Owner is taken from the container when a model has none.
type DirectWebContainerView struct {
	container *WebContainer
}

// RegisterContext adds a fully described logical context
func (v *DirectWebContainerView) RegisterContext(ctx *model.OsgiContextModel) (*model.OsgiContextModel, error) {
	if ctx == nil {
		return nil, validationErrorf("context must not be nil")
	}
	if ctx.Owner == "" {
		ctx.Owner = v.container.owner
	}
	var registered *model.OsgiContextModel
	op := func(m *ServerModel, b *batch.Batch) error {
		var err error
		registered, err = m.AddOsgiContextModel(b, ctx)
		return err
	}
	err := v.container.execute("register context "+ctx.ID(), nil, op, func() {
		if registered.Owner == v.container.owner {
			v.container.service.addContext(registered)
		}
	})
	if err != nil {
		return nil, err
	}
	return registered, nil
}

func (v *DirectWebContainerView) UnregisterContext(ctx *model.OsgiContextModel) error {
	if ctx == nil {
		return validationErrorf("context must not be nil")
	}
	op := func(m *ServerModel, b *batch.Batch) error {
		return m.RemoveOsgiContextModel(b, ctx.ID())
	}
	return v.container.execute("unregister context "+ctx.ID(), nil, op, func() {
		v.container.service.removeContext(ctx)
	})
}

// RegisterElement adds a prepared element model. Its contexts must already be registered.
func (v *DirectWebContainerView) RegisterElement(e model.ElementModel) error {
	if e == nil {
		return validationErrorf("element must not be nil")
	}
	if e.Base().Owner == "" {
		e.Base().Owner = v.container.owner
	}
	if existing := v.container.service.conflicting(e); existing != nil && e.Base().Owner == v.container.owner {
		return validationErrorf("%s is already registered by [%s] as %s", e.Kind(), v.container.owner, existing)
	}
	op := func(m *ServerModel, b *batch.Batch) error {
		return m.AddElementModel(b, e)
	}
	return v.container.execute("register "+e.Kind().String(), nil, op, func() {
		if e.Base().Owner == v.container.owner {
			v.container.service.addElement(e)
		}
	})
}

func (v *DirectWebContainerView) UnregisterElement(e model.ElementModel) error {
	if e == nil {
		return validationErrorf("element must not be nil")
	}
	id := e.Base().ServiceID
	op := func(m *ServerModel, b *batch.Batch) error {
		return m.RemoveElementModel(b, id)
	}
	return v.container.execute("unregister "+e.String(), nil, op, func() {
		v.container.service.removeElement(e)
	})
}

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
	"errors"
	"net/http"
	"testing"

	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/model"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var passFilter = model.FilterFunc(func(w http.ResponseWriter, r *http.Request, next http.Handler) {
	next.ServeHTTP(w, r)
})

func Test_ControllerFailureRollsBack(t *testing.T) {
	t.Run("the applied prefix is undone in the controller", func(t *testing.T) {
		req := require.New(t)

		controller := &mockController{}
		cause := &batch.AcceptError{Index: 1, Err: errors.New("boom")}
		controller.On("SendBatch", mock.Anything).Return(cause).Once()
		controller.On("SendBatch", mock.Anything).Return(nil)

		m := NewServerModel(WholeModel)
		wc := NewWebContainer("a", m, controller)

		_, err := wc.RegisterServlet("/s", okServlet, WithContexts(model.NewDefaultContext("fresh", nil)))
		var acceptErr *batch.AcceptError
		req.ErrorAs(err, &acceptErr)
		req.Equal(1, acceptErr.Index)

		req.Len(controller.sent, 2)
		req.Equal(4, controller.sent[0].Len())
		undo := controller.sent[1].Changes()
		req.Len(undo, 1)
		scmChange, ok := undo[0].(*batch.ServletContextModelChange)
		req.True(ok)
		req.Equal(batch.OpDelete, scmChange.Op)

		req.True(m.IsClean("a"))
		req.Empty(m.ServletContextPaths())
		req.True(wc.ServiceModel().IsEmpty())
	})

	t.Run("a plain failure means nothing was applied", func(t *testing.T) {
		req := require.New(t)

		controller := &mockController{}
		controller.On("SendBatch", mock.Anything).Return(errors.New("down")).Once()

		m := NewServerModel(WholeModel)
		wc := NewWebContainer("a", m, controller)

		_, err := wc.RegisterServlet("/s", okServlet)
		req.EqualError(err, "down")
		controller.AssertNumberOfCalls(t, "SendBatch", 1)
		req.True(m.IsClean("a"))
	})

	t.Run("a failed rollback is reported as inconsistent backend", func(t *testing.T) {
		req := require.New(t)

		controller := &mockController{}
		controller.On("SendBatch", mock.Anything).Return(&batch.AcceptError{Index: 2, Err: errors.New("boom")}).Once()
		controller.On("SendBatch", mock.Anything).Return(errors.New("backend gone")).Once()

		m := NewServerModel(WholeModel)
		wc := NewWebContainer("a", m, controller)

		_, err := wc.RegisterServlet("/s", okServlet)
		var rollbackErr *RollbackError
		req.ErrorAs(err, &rollbackErr)
		req.ErrorIs(err, ErrInconsistentBackend)
		req.EqualError(rollbackErr.Err, "backend gone")

		var acceptErr *batch.AcceptError
		req.ErrorAs(err, &acceptErr)
		req.Equal(2, acceptErr.Index)

		// the model is rolled back regardless
		req.True(m.IsClean("a"))
		controller.AssertExpectations(t)
	})
}

func Test_RegistrationValidation(t *testing.T) {
	controller := newAcceptingController()
	m := NewServerModel(WholeModel)
	wcA := NewWebContainer("a", m, controller)
	wcB := NewWebContainer("b", m, controller)

	t.Run("malformed registrations are rejected before anything is sent", func(t *testing.T) {
		req := require.New(t)

		var validationErr *ValidationError
		_, err := wcA.RegisterServlet("s", okServlet)
		req.ErrorAs(err, &validationErr)
		_, err = wcA.RegisterServlet("/s/", okServlet)
		req.ErrorAs(err, &validationErr)
		_, err = wcA.RegisterServlet("/s", nil)
		req.ErrorAs(err, &validationErr)
		_, err = wcA.RegisterFilter("f", passFilter, nil)
		req.ErrorAs(err, &validationErr)
		_, err = wcA.RegisterErrorPages("/error", []string{"302"})
		req.ErrorAs(err, &validationErr)
		_, err = wcA.RegisterContext(model.NewDefaultContext("c", nil), "/c/")
		req.ErrorAs(err, &validationErr)

		controller.AssertNotCalled(t, "SendBatch", mock.Anything)
		req.True(m.IsClean("a"))
	})

	t.Run("unknown registrations cannot be removed", func(t *testing.T) {
		req := require.New(t)
		req.ErrorIs(wcA.Unregister("/nope"), ErrNotRegistered)
		req.ErrorIs(wcA.UnregisterFilter("nope"), ErrNotRegistered)
		req.ErrorIs(wcA.UnregisterContext(model.NewDefaultContext("nope", nil)), ErrNotRegistered)
	})

	t.Run("an alias is reserved per physical context", func(t *testing.T) {
		req := require.New(t)

		_, err := wcA.RegisterServlet("/s", okServlet)
		req.NoError(err)

		_, err = wcB.RegisterServlet("/s", okServlet, WithRank(100))
		var namespaceErr *NamespaceError
		req.ErrorAs(err, &namespaceErr)
		req.Equal("/s", namespaceErr.Alias)
		req.Equal("/", namespaceErr.Path)
		req.Equal("a", namespaceErr.Owner)
		req.True(m.IsClean("b"))

		other := model.NewDefaultContext("other", nil)
		_, err = wcB.RegisterContext(other, "/other")
		req.NoError(err)
		_, err = wcB.RegisterServlet("/s", okServlet, WithContexts(other))
		req.NoError(err)
	})

	t.Run("elements of another owner cannot be removed", func(t *testing.T) {
		req := require.New(t)

		s := wcA.ServiceModel().ServletByAlias("/s")
		req.NotNil(s)
		req.ErrorIs(wcB.UnregisterElement(s), ErrNotRegistered)
		req.True(m.IsEnabled(s.ServiceID, "/"))
	})

	t.Run("url patterns reserved by an alias are rejected in both directions", func(t *testing.T) {
		req := require.New(t)

		var namespaceErr *NamespaceError
		_, err := wcB.RegisterServletPatterns("p", okServlet, []string{"/s/*"}, WithRank(100))
		req.ErrorAs(err, &namespaceErr)
		req.Equal("/s", namespaceErr.Alias)
		req.Equal("/", namespaceErr.Path)
		req.Equal("a", namespaceErr.Owner)
		req.Nil(wcB.ServiceModel().ServletByName("p"))

		_, err = wcB.RegisterServletPatterns("q", okServlet, []string{"/q"})
		req.NoError(err)
		_, err = wcA.RegisterServlet("/q", okServlet, WithRank(100))
		req.ErrorAs(err, &namespaceErr)
		req.Equal("/q", namespaceErr.Alias)
		req.Equal("b", namespaceErr.Owner)
		req.Nil(wcA.ServiceModel().ServletByAlias("/q"))

		// a pattern below the alias does not clash
		_, err = wcB.RegisterServletPatterns("below", okServlet, []string{"/s/below"})
		req.NoError(err)
	})

	t.Run("named registrations are unique per owner", func(t *testing.T) {
		req := require.New(t)

		first, err := wcA.RegisterErrorPages("/error", []string{"404"})
		req.NoError(err)
		var validationErr *ValidationError
		_, err = wcA.RegisterErrorPages("/error", []string{"500"})
		req.ErrorAs(err, &validationErr)
		_, err = wcA.RegisterFilter("f", passFilter, []string{"/*"})
		req.NoError(err)
		_, err = wcA.RegisterFilter("f", passFilter, []string{"/other/*"})
		req.ErrorAs(err, &validationErr)

		// another owner has its own names
		_, err = wcB.RegisterErrorPages("/error", []string{"500"})
		req.NoError(err)

		req.Same(first, wcA.ServiceModel().ErrorPage("/error"))
		req.NoError(wcA.UnregisterErrorPages("/error"))
		req.Nil(wcA.ServiceModel().ErrorPage("/error"))
		req.NoError(wcA.UnregisterFilter("f"))
	})
}

func Test_Transactions(t *testing.T) {
	controller := newAcceptingController()
	m := NewServerModel(WholeModel)
	wc := NewWebContainer("a", m, controller)

	ctx := model.NewDefaultContext("tx", nil)
	_, err := wc.RegisterContext(ctx, "/tx")
	require.NoError(t, err)

	t.Run("registrations are deferred until the transaction ends", func(t *testing.T) {
		req := require.New(t)
		sent := len(controller.sent)

		req.NoError(wc.Begin(ctx))
		req.ErrorIs(wc.Begin(ctx), ErrTransactionOpen)

		s, err := wc.RegisterServlet("/a", okServlet, WithContexts(ctx))
		req.NoError(err)
		_, err = wc.RegisterFilter("f", passFilter, []string{"/*"}, WithContexts(ctx))
		req.NoError(err)

		req.Len(controller.sent, sent)
		req.Nil(wc.ServiceModel().ServletByAlias("/a"))

		req.NoError(wc.End(ctx))
		req.Len(controller.sent, sent+1)
		req.True(m.IsEnabled(s.ServiceID, "/tx"))
		req.NotNil(wc.ServiceModel().ServletByAlias("/a"))
		req.NotNil(wc.ServiceModel().Filter("f"))

		var filterChanges int
		for _, c := range controller.lastBatch().Changes() {
			if _, ok := c.(*batch.FilterStateChange); ok {
				filterChanges++
			}
		}
		req.Equal(1, filterChanges)

		req.ErrorIs(wc.End(ctx), ErrNoTransaction)
	})

	t.Run("a failing registration discards the whole transaction", func(t *testing.T) {
		req := require.New(t)
		sent := len(controller.sent)

		req.NoError(wc.Begin(ctx))
		_, err := wc.RegisterServlet("/b", okServlet, WithContexts(ctx))
		req.NoError(err)
		_, err = wc.RegisterFilter("broken", passFilter, nil, WithContexts(ctx))
		req.NoError(err)

		var validationErr *ValidationError
		req.ErrorAs(wc.End(ctx), &validationErr)
		req.Len(controller.sent, sent)
		req.Nil(wc.ServiceModel().ServletByAlias("/b"))
		req.Len(m.Elements("a"), 2)
	})

	t.Run("registrations for other contexts are not deferred", func(t *testing.T) {
		req := require.New(t)
		sent := len(controller.sent)

		req.NoError(wc.Begin(ctx))
		_, err := wc.RegisterServlet("/direct", okServlet)
		req.NoError(err)
		req.Len(controller.sent, sent+1)
		req.NoError(wc.End(ctx))
		req.Len(controller.sent, sent+1)
	})
}

func Test_WebContainerStop(t *testing.T) {
	t.Run("stopping removes only the owner's registrations", func(t *testing.T) {
		req := require.New(t)

		controller := newAcceptingController()
		m := NewServerModel(WholeModel)
		wcA := NewWebContainer("a", m, controller)
		wcB := NewWebContainer("b", m, controller)

		shared := &model.DefaultContext{ID: "shared", IsShared: true}
		_, err := wcA.RegisterContext(shared, "/shared")
		req.NoError(err)
		_, err = wcA.RegisterServlet("/a", okServlet)
		req.NoError(err)
		_, err = wcA.RegisterWelcomeFiles([]string{"index.html"}, false)
		req.NoError(err)

		onShared, err := wcB.RegisterServlet("/b", okServlet, WithContexts(shared))
		req.NoError(err)
		req.True(m.IsEnabled(onShared.ServiceID, "/shared"))
		own, err := wcB.RegisterServlet("/b2", okServlet)
		req.NoError(err)
		req.Equal("default@a", m.DefaultOsgiContextModel("/").ID())

		req.NoError(wcA.Stop())

		req.True(m.IsClean("a"))
		req.True(wcA.ServiceModel().IsEmpty())
		req.Equal([]string{"/"}, m.ServletContextPaths())
		req.Equal("default@b", m.DefaultOsgiContextModel("/").ID())
		req.True(m.IsEnabled(own.ServiceID, "/"))

		// an element left without contexts stays registered but inactive
		paths, found := m.ActivePaths(onShared.ServiceID)
		req.True(found)
		req.Empty(paths)

		req.NoError(wcA.Stop())
		_, err = wcA.RegisterServlet("/again", okServlet)
		req.ErrorIs(err, ErrContainerStopped)
		req.ErrorIs(wcA.Begin(nil), ErrContainerStopped)
	})

	t.Run("controller failures during cleanup are best effort", func(t *testing.T) {
		req := require.New(t)

		controller := &mockController{}
		controller.On("SendBatch", mock.Anything).Return(nil).Times(2)
		controller.On("SendBatch", mock.Anything).Return(&batch.AcceptError{Index: 0, Err: errors.New("stuck")}).Once()
		controller.On("SendBatch", mock.Anything).Return(nil)

		m := NewServerModel(WholeModel)
		wc := NewWebContainer("a", m, controller)
		_, err := wc.RegisterServlet("/x", okServlet)
		req.NoError(err)
		_, err = wc.RegisterServlet("/y", okServlet)
		req.NoError(err)

		err = wc.Stop()
		var acceptErr *batch.AcceptError
		req.ErrorAs(err, &acceptErr)

		req.Len(controller.sent, 4)
		req.Equal(5, controller.sent[2].Len())
		req.Equal(4, controller.sent[3].Len())
		req.True(m.IsClean("a"))
		req.Empty(m.ServletContextPaths())
	})
}

func Test_DirectView(t *testing.T) {
	req := require.New(t)

	controller := newAcceptingController()
	m := NewServerModel(WholeModel)
	direct := NewWebContainer("a", m, controller).Direct()

	ctx, err := direct.RegisterContext(&model.OsgiContextModel{Name: "direct", Path: "/d", Context: model.NewDefaultContext("direct", nil)})
	req.NoError(err)
	req.Equal(model.Owner("a"), ctx.Owner)

	servlet := &model.ServletModel{Name: "s", URLPatterns: []string{"/"}, Servlet: okServlet}
	servlet.Contexts = []*model.OsgiContextModel{ctx}
	req.NoError(direct.RegisterElement(servlet))
	req.True(m.IsEnabled(servlet.ServiceID, "/d"))

	req.NoError(direct.UnregisterContext(ctx))
	paths, found := m.ActivePaths(servlet.ServiceID)
	req.True(found)
	req.Empty(paths)

	req.NoError(direct.UnregisterElement(servlet))
	req.True(m.IsClean("a"))
}

func Test_StoppedContainerRejectsDirectRegistrations(t *testing.T) {
	controller := newAcceptingController()
	m := NewServerModel(WholeModel)
	wc := NewWebContainer("a", m, controller)
	direct := wc.Direct()

	ctx, err := direct.RegisterContext(&model.OsgiContextModel{Name: "direct", Path: "/d", Context: model.NewDefaultContext("direct", nil)})
	require.NoError(t, err)
	require.NoError(t, wc.Stop())

	t.Run("the direct view is rejected", func(t *testing.T) {
		req := require.New(t)
		sent := len(controller.sent)

		_, err := direct.RegisterContext(&model.OsgiContextModel{Name: "late", Path: "/late", Context: model.NewDefaultContext("late", nil)})
		req.ErrorIs(err, ErrContainerStopped)

		servlet := &model.ServletModel{Name: "s", URLPatterns: []string{"/"}, Servlet: okServlet}
		servlet.Contexts = []*model.OsgiContextModel{ctx}
		req.ErrorIs(direct.RegisterElement(servlet), ErrContainerStopped)

		req.Len(controller.sent, sent)
		req.True(m.IsClean("a"))
		req.Empty(m.ServletContextPaths())
		req.True(wc.ServiceModel().IsEmpty())
	})

	t.Run("operations started before Stop are rejected once they execute", func(t *testing.T) {
		req := require.New(t)

		planned := false
		op := wc.unlessStopped(func(*ServerModel, *batch.Batch) error {
			planned = true
			return nil
		})
		_, err := m.Execute(controller, "late", op)
		req.ErrorIs(err, ErrContainerStopped)
		req.False(planned)

		committed := false
		wc.commit(func() { committed = true })
		req.False(committed)
	})
}

func Test_DetachedElementRollback(t *testing.T) {
	req := require.New(t)

	controller := &mockController{}
	controller.On("SendBatch", mock.Anything).Return(nil).Times(3)
	controller.On("SendBatch", mock.Anything).Return(errors.New("down")).Once()
	controller.On("SendBatch", mock.Anything).Return(nil)

	m := NewServerModel(WholeModel)
	wcA := NewWebContainer("a", m, controller)
	wcB := NewWebContainer("b", m, controller)

	shared := &model.DefaultContext{ID: "s", IsShared: true}
	_, err := wcA.RegisterContext(shared, "/a")
	req.NoError(err)
	detached, err := wcB.RegisterServlet("/s", okServlet, WithContexts(shared))
	req.NoError(err)
	req.NoError(wcA.Stop())

	// the failed removal restores the element without contexts
	req.EqualError(wcB.Unregister("/s"), "down")
	paths, found := m.ActivePaths(detached.ServiceID)
	req.True(found)
	req.Empty(paths)

	for _, alias := range []string{"/t", "/u"} {
		_, err = wcB.RegisterServlet(alias, okServlet)
		req.NoError(err)
		for _, change := range summarize(controller.lastBatch()) {
			req.NotEqual(detached.ServiceID, change.id)
		}
	}
	paths, _ = m.ActivePaths(detached.ServiceID)
	req.Empty(paths)
	req.Equal([]string{"/"}, m.ServletContextPaths())

	req.NoError(wcB.Unregister("/s"))
	_, found = m.ActivePaths(detached.ServiceID)
	req.False(found)
	controller.AssertNumberOfCalls(t, "SendBatch", 7)
}

type countingListener struct {
	initialized int
}

func (l *countingListener) ContextInitialized(model.ServletContext) { l.initialized++ }
func (l *countingListener) ContextDestroyed(model.ServletContext)   {}

func Test_UnregisterByValue(t *testing.T) {
	req := require.New(t)

	m := NewServerModel(WholeModel)
	wc := NewWebContainer("a", m, newAcceptingController())

	listener := &countingListener{}
	_, err := wc.RegisterEventListener(listener)
	req.NoError(err)
	_, err = wc.RegisterWelcomeFiles([]string{"index.html", "index.htm"}, true)
	req.NoError(err)
	req.Len(m.ActiveElements(model.KindEventListener, "/"), 1)
	req.Len(m.ActiveElements(model.KindWelcomeFile, "/"), 1)

	req.ErrorIs(wc.UnregisterEventListener(&countingListener{}), ErrNotRegistered)
	req.ErrorIs(wc.UnregisterEventListener(func() {}), ErrNotRegistered)
	req.NoError(wc.UnregisterEventListener(listener))
	req.Empty(m.ActiveElements(model.KindEventListener, "/"))

	req.ErrorIs(wc.UnregisterWelcomeFiles([]string{"index.html"}), ErrNotRegistered)
	req.NoError(wc.UnregisterWelcomeFiles([]string{"index.html", "index.htm"}))
	req.Empty(m.Elements("a"))
}

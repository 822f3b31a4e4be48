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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	xweb "github.com/openziti/xweb-registry"
	"github.com/openziti/xweb-registry/model"
	"github.com/stretchr/testify/require"
)

// newServingHandler creates a context handler at path that answers every request with its own path
func newServingHandler(path string, osgiContext *model.OsgiContextModel) *contextHandler {
	handler := newContextHandler(path)
	handler.setDefaultContext(osgiContext)
	_ = handler.install(&model.ServletModel{
		Name:        "echo" + path,
		URLPatterns: []string{"/"},
		Servlet: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx := OsgiContextFromRequestContext(r.Context()); ctx != nil {
				w.Header().Set("X-Context", ctx.Name)
			}
			_, _ = io.WriteString(w, path)
		}),
	})
	return handler
}

func serve(demux *Demux, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	demux.ServeHTTP(recorder, request)
	return recorder
}

func Test_Demux(t *testing.T) {
	root := &model.OsgiContextModel{Name: "root", Owner: "test", Path: "/"}
	api := &model.OsgiContextModel{Name: "api", Owner: "test", Path: "/api"}
	apiV2 := &model.OsgiContextModel{Name: "apiV2", Owner: "test", Path: "/api/v2"}
	hosted := &model.OsgiContextModel{Name: "hosted", Owner: "test", Path: "/hosted", VirtualHosts: []string{"example.com"}}
	admin := &model.OsgiContextModel{Name: "admin", Owner: "test", Path: "/admin", Connectors: []string{"admin"}}

	t.Run("an empty demux answers 404", func(t *testing.T) {
		req := require.New(t)
		recorder := serve(NewDemux(), httptest.NewRequest(http.MethodGet, "/anything", nil))
		req.Equal(http.StatusNotFound, recorder.Code)
		req.Zero(recorder.Body.Len())
	})

	demux := NewDemux()
	for _, ctx := range []*model.OsgiContextModel{root, api, apiV2, hosted, admin} {
		require.NoError(t, demux.add(newServingHandler(ctx.Path, ctx)))
	}

	t.Run("a duplicate path is an error", func(t *testing.T) {
		require.Error(t, demux.add(newContextHandler("/api")))
	})

	t.Run("the longest context path wins", func(t *testing.T) {
		req := require.New(t)

		for target, expected := range map[string]string{
			"/":             "/",
			"/other":        "/",
			"/api":          "/api",
			"/api/users":    "/api",
			"/apix":         "/",
			"/api/v2":       "/api/v2",
			"/api/v2/users": "/api/v2",
			"/api/v20":      "/api",
		} {
			recorder := serve(demux, httptest.NewRequest(http.MethodGet, target, nil))
			req.Equal(http.StatusOK, recorder.Code, target)
			req.Equal(expected, recorder.Body.String(), target)
		}
	})

	t.Run("the default logical context is stored on the request", func(t *testing.T) {
		req := require.New(t)
		recorder := serve(demux, httptest.NewRequest(http.MethodGet, "/api/v2/x", nil))
		req.Equal("apiV2", recorder.Header().Get("X-Context"))
	})

	t.Run("virtual hosts restrict a context", func(t *testing.T) {
		req := require.New(t)

		request := httptest.NewRequest(http.MethodGet, "http://example.com:8443/hosted/x", nil)
		req.Equal("/hosted", serve(demux, request).Body.String())

		request = httptest.NewRequest(http.MethodGet, "http://other.com/hosted/x", nil)
		req.Equal("/", serve(demux, request).Body.String())
	})

	t.Run("connectors restrict a context to named servers", func(t *testing.T) {
		req := require.New(t)

		request := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
		req.Equal("/", serve(demux, request).Body.String())

		serverContext := &ServerContext{ServerConfig: &xweb.ServerConfig{Name: "admin"}}
		request = request.WithContext(context.WithValue(request.Context(), ServerContextKey, serverContext))
		req.Equal("/admin", serve(demux, request).Body.String())

		serverContext = &ServerContext{ServerConfig: &xweb.ServerConfig{Name: "public"}}
		request = request.WithContext(context.WithValue(request.Context(), ServerContextKey, serverContext))
		req.Equal("/", serve(demux, request).Body.String())
	})

	t.Run("a context without default logical context is not served", func(t *testing.T) {
		req := require.New(t)

		demux.get("/api").clearDefaultContext(api)
		req.Equal("/", serve(demux, httptest.NewRequest(http.MethodGet, "/api/users", nil)).Body.String())

		demux.get("/api").setDefaultContext(api)
		req.Equal("/api", serve(demux, httptest.NewRequest(http.MethodGet, "/api/users", nil)).Body.String())
	})

	t.Run("removed contexts are no longer routed", func(t *testing.T) {
		req := require.New(t)

		req.NotNil(demux.remove("/api/v2"))
		req.Nil(demux.remove("/api/v2"))
		req.Equal("/api", serve(demux, httptest.NewRequest(http.MethodGet, "/api/v2/users", nil)).Body.String())
		req.Equal([]string{"/", "/admin", "/api", "/hosted"}, demux.Paths())
	})
}

func Test_Mapper(t *testing.T) {
	servlet := func(name string, patterns ...string) *model.ServletModel {
		return &model.ServletModel{Name: name, URLPatterns: patterns}
	}

	m := newMapper()
	require.NoError(t, m.add(servlet("exact", "/a/b")))
	require.NoError(t, m.add(servlet("prefix", "/a/*")))
	require.NoError(t, m.add(servlet("deep", "/a/b/c/*")))
	require.NoError(t, m.add(servlet("ext", "*.jsp")))
	require.NoError(t, m.add(servlet("default", "/")))
	require.NoError(t, m.add(servlet("root", "")))

	t.Run("servlet mapping rules are applied in order", func(t *testing.T) {
		req := require.New(t)

		for target, expected := range map[string]string{
			"/a/b":          "exact",
			"/a":            "prefix",
			"/a/x":          "prefix",
			"/a/b/c":        "deep",
			"/a/b/c/d":      "deep",
			"/a/x.jsp":      "prefix",
			"/x/index.jsp":  "ext",
			"/x/index.html": "default",
			"/":             "root",
		} {
			found := m.find(target)
			req.NotNil(found, target)
			req.Equal(expected, found.servlet.Name, target)
		}
	})

	t.Run("servlet path and path info are split", func(t *testing.T) {
		req := require.New(t)

		found := m.find("/a/b/c/d/e")
		req.Equal("/a/b/c", found.servletPath)
		req.Equal("/d/e", found.pathInfo)
		req.False(found.isDefault)

		req.True(m.find("/nothing").isDefault)
	})

	t.Run("a pattern can only be mapped once", func(t *testing.T) {
		req := require.New(t)

		req.Error(m.add(servlet("clash", "/b", "/a/*")))
		// the partially added pattern was taken back
		req.Equal("default", m.find("/b").servlet.Name)
	})

	t.Run("removed servlets are no longer found", func(t *testing.T) {
		req := require.New(t)

		prefix := m.find("/a/x").servlet
		m.remove(prefix)
		req.Equal("default", m.find("/a/x").servlet.Name)
		req.Equal("exact", m.find("/a/b").servlet.Name)
	})
}

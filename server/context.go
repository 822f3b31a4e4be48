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

	xweb "github.com/openziti/xweb-registry"
	"github.com/openziti/xweb-registry/model"
)

type ContextKey string

const (
	OsgiContextKey   = ContextKey("xweb.OsgiContextModel.ContextKey")
	ServerContextKey = ContextKey("xweb.Server.ContextKey")
	ErrorContextKey  = ContextKey("xweb.Error.ContextKey")
)

// ServerContext identifies the server and bind point a request arrived on
type ServerContext struct {
	BindPoint    *xweb.BindPointConfig
	ServerConfig *xweb.ServerConfig
	Config       *xweb.InstanceConfig
}

// ErrorInfo is available to error page servlets and describes the error being handled
type ErrorInfo struct {
	StatusCode int
	RequestURI string
	PanicValue interface{}
}

// OsgiContextFromRequestContext is a utility function to retrieve the default logical context of the physical
// context a request was routed to.
func OsgiContextFromRequestContext(ctx context.Context) *model.OsgiContextModel {
	if val := ctx.Value(OsgiContextKey); val != nil {
		if osgiContext, ok := val.(*model.OsgiContextModel); ok {
			return osgiContext
		}
	}
	return nil
}

// ServerContextFromRequestContext is a utility function to retrieve a *ServerContext reference from the http.Request
// that provides access to XWeb configuration like BindPointConfig, ServerConfig, and InstanceConfig values.
func ServerContextFromRequestContext(ctx context.Context) *ServerContext {
	if val := ctx.Value(ServerContextKey); val != nil {
		if serverContext, ok := val.(*ServerContext); ok {
			return serverContext
		}
	}
	return nil
}

// ErrorFromRequestContext returns the error an error page is rendered for, or nil outside of error dispatch
func ErrorFromRequestContext(ctx context.Context) *ErrorInfo {
	if val := ctx.Value(ErrorContextKey); val != nil {
		if info, ok := val.(*ErrorInfo); ok {
			return info
		}
	}
	return nil
}

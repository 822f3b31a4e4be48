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
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/debugz"
	xweb "github.com/openziti/xweb-registry"
	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/middleware"
	"github.com/sirupsen/logrus"
)

const (
	NewAddressHeader = "xweb-new-address"

	DefaultShutdownTimeout = 5 * time.Second
)

var (
	ErrNotConfigured = errors.New("server controller is not configured")
	ErrStopped       = errors.New("server controller has been stopped")
)

type state int

const (
	stateNew state = iota
	stateConfigured
	stateStarted
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateConfigured:
		return "configured"
	case stateStarted:
		return "started"
	case stateStopped:
		return "stopped"
	}
	return "unknown"
}

type namedHttpServer struct {
	*http.Server
	BindPointConfig *xweb.BindPointConfig
	ServerConfig    *xweb.ServerConfig
	InstanceConfig  *xweb.InstanceConfig
	listener        net.Listener
}

func (s *namedHttpServer) NewBaseContext(_ net.Listener) context.Context {
	serverContext := &ServerContext{
		BindPoint:    s.BindPointConfig,
		ServerConfig: s.ServerConfig,
		Config:       s.InstanceConfig,
	}

	ctx := context.Background()
	ctx = context.WithValue(ctx, ServerContextKey, serverContext)

	return ctx
}

// Controller is a net/http backed xweb.ServerController. Batches are applied to per context path handlers that are
// served by one http.Server per configured server and bind point. Batches may be sent before the controller is
// started, their contexts are served as soon as the servers listen.
type Controller struct {
	OnHandlerPanic  func(writer http.ResponseWriter, request *http.Request, panicVal interface{})
	ShutdownTimeout time.Duration

	lock        sync.Mutex
	state       state
	demux       *Demux
	HttpServers []*namedHttpServer
	logWriter   *io.PipeWriter
}

var _ xweb.ServerController = &Controller{}

func NewController() *Controller {
	return &Controller{
		ShutdownTimeout: DefaultShutdownTimeout,
		demux:           NewDemux(),
	}
}

// Demux returns the handler routing requests to contexts
func (c *Controller) Demux() *Demux {
	return c.demux
}

// Handler returns the fully wrapped handler as served by every http.Server, without bind point specifics
func (c *Controller) Handler() http.Handler {
	return c.wrapHandler(nil, c.demux)
}

// Configure creates an http.Server for every bind point of every configured server
func (c *Controller) Configure(config *xweb.InstanceConfig) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != stateNew {
		return fmt.Errorf("cannot configure server controller in state %s", c.state)
	}

	c.logWriter = pfxlog.Logger().Writer()

	for _, serverConfig := range config.ServerConfigs {
		for _, bindPoint := range serverConfig.BindPoints {
			namedServer := &namedHttpServer{
				ServerConfig:    serverConfig,
				BindPointConfig: bindPoint,
				InstanceConfig:  config,
				Server: &http.Server{
					Addr:         bindPoint.InterfaceAddress,
					WriteTimeout: serverConfig.Options.WriteTimeout,
					ReadTimeout:  serverConfig.Options.ReadTimeout,
					IdleTimeout:  serverConfig.Options.IdleTimeout,
					Handler:      c.wrapHandler(bindPoint, c.demux),
					TLSConfig:    serverConfig.TLSConfig(),
					ErrorLog:     log.New(c.logWriter, "", 0),
				},
			}

			namedServer.BaseContext = namedServer.NewBaseContext

			c.HttpServers = append(c.HttpServers, namedServer)
		}
	}

	c.state = stateConfigured
	return nil
}

func (c *Controller) wrapHandler(point *xweb.BindPointConfig, handler http.Handler) http.Handler {
	//innermost/bottom -> outermost/top
	handler = c.wrapSetNewAddressHeader(point, handler)
	handler = c.wrapPanicRecovery(handler)
	handler = middleware.NewCompressionHandler(handler)
	return handler
}

// wrapPanicRecovery wraps a http.Handler with another http.Handler that provides recovery.
func (c *Controller) wrapPanicRecovery(handler http.Handler) http.Handler {
	wrappedHandler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		defer func() {
			if panicVal := recover(); panicVal != nil {
				if c.OnHandlerPanic != nil {
					c.OnHandlerPanic(writer, request, panicVal)
					return
				}
				pfxlog.Logger().Errorf("panic caught by server handler: %v\n%v", panicVal, debugz.GenerateLocalStack())
				writer.WriteHeader(http.StatusInternalServerError)
			}
		}()

		handler.ServeHTTP(writer, request)
	})

	return wrappedHandler
}

// wrapSetNewAddressHeader will check to see if the bindPoint is configured to advertise a "new address". If so
// the value is added to the NewAddressHeader which will be sent out on every response. Clients can check this
// header to be notified that the server is or will be moving from one ip/hostname to another.
func (c *Controller) wrapSetNewAddressHeader(point *xweb.BindPointConfig, handler http.Handler) http.Handler {
	if point == nil || point.NewAddress == "" {
		return handler
	}

	wrappedHandler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		scheme := "https://"
		if request.TLS == nil {
			scheme = "http://"
		}
		writer.Header().Set(NewAddressHeader, scheme+point.NewAddress)

		handler.ServeHTTP(writer, request)
	})

	return wrappedHandler
}

// Start listens on every bind point and serves in the background. If any listener cannot be opened the ones
// already opened are closed again.
func (c *Controller) Start() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch c.state {
	case stateNew:
		return ErrNotConfigured
	case stateStarted:
		return nil
	case stateStopped:
		return ErrStopped
	}

	logger := pfxlog.Logger()

	for i, httpServer := range c.HttpServers {
		var bindPoint xweb.BindPoint = httpServer.BindPointConfig
		l, err := bindPoint.Listener(httpServer.ServerConfig.Name, httpServer.TLSConfig)
		if err != nil {
			for _, opened := range c.HttpServers[:i] {
				_ = opened.listener.Close()
				opened.listener = nil
			}
			return fmt.Errorf("error listening on %s for server %s: %w", httpServer.Addr, httpServer.ServerConfig.Name, err)
		}
		httpServer.listener = l
	}

	for _, httpServer := range c.HttpServers {
		localServer := httpServer
		logger.WithFields(logrus.Fields{
			"server":     localServer.ServerConfig.Name,
			"address":    localServer.listener.Addr().String(),
			"advertised": localServer.BindPointConfig.ServerAddress(),
			"tls":        localServer.TLSConfig != nil,
		}).Info("starting to listen and serve")

		go func() {
			if err := localServer.Serve(localServer.listener); !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Errorf("server %s stopped serving on %s", localServer.ServerConfig.Name, localServer.Addr)
			}
		}()
	}

	c.state = stateStarted
	return nil
}

// Stop shuts down all http.Server's and notifies the listeners of every remaining context
func (c *Controller) Stop() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state == stateStopped {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()

	var errs []error
	if c.state == stateStarted {
		for _, httpServer := range c.HttpServers {
			if err := httpServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("error shutting down server %s on %s: %w", httpServer.ServerConfig.Name, httpServer.Addr, err))
			}
		}
	}

	if c.logWriter != nil {
		_ = c.logWriter.Close()
	}

	for _, path := range c.demux.Paths() {
		if handler := c.demux.remove(path); handler != nil {
			handler.destroy()
		}
	}

	c.state = stateStopped
	return errors.Join(errs...)
}

// Addresses returns the addresses the started servers listen on
func (c *Controller) Addresses() []net.Addr {
	c.lock.Lock()
	defer c.lock.Unlock()

	var result []net.Addr
	for _, httpServer := range c.HttpServers {
		if httpServer.listener != nil {
			result = append(result, httpServer.listener.Addr())
		}
	}
	return result
}

// SendBatch applies b to the live handlers. A failure is the *batch.AcceptError of the change that failed, the
// changes before it remain applied.
func (c *Controller) SendBatch(b *batch.Batch) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state == stateStopped {
		return ErrStopped
	}

	pfxlog.Logger().WithField("batchId", b.ID()).Debugf("applying %s", b)
	return b.Accept(&applier{demux: c.demux})
}

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

package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
)

func Test_CompressionHandler(t *testing.T) {
	body := strings.Repeat("hello xweb ", 100)
	handler := NewCompressionHandler(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Length", "1100")
		_, _ = writer.Write([]byte(body))
	}))

	t.Run("a client accepting br receives a compressed body", func(t *testing.T) {
		req := require.New(t)

		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.Header.Set("Accept-Encoding", "gzip, br")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, request)

		req.Equal(http.StatusOK, recorder.Code)
		req.Equal(EncodingBrotli, recorder.Header().Get("Content-Encoding"))
		req.Equal("Accept-Encoding", recorder.Header().Get("Vary"))
		req.Empty(recorder.Header().Get("Content-Length"))
		req.Less(recorder.Body.Len(), len(body))

		decoded, err := io.ReadAll(brotli.NewReader(recorder.Body))
		req.NoError(err)
		req.Equal(body, string(decoded))
	})

	t.Run("a client not accepting br receives the plain body", func(t *testing.T) {
		req := require.New(t)

		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.Header.Set("Accept-Encoding", "gzip")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, request)

		req.Empty(recorder.Header().Get("Content-Encoding"))
		req.Equal(body, recorder.Body.String())
	})

	t.Run("br with q=0 is refused", func(t *testing.T) {
		req := require.New(t)

		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.Header.Set("Accept-Encoding", "br;q=0, gzip")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, request)

		req.Empty(recorder.Header().Get("Content-Encoding"))
		req.Equal(body, recorder.Body.String())
	})

	t.Run("upgrade requests are passed through", func(t *testing.T) {
		req := require.New(t)

		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.Header.Set("Accept-Encoding", "br")
		request.Header.Set("Upgrade", "websocket")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, request)

		req.Empty(recorder.Header().Get("Content-Encoding"))
		req.Equal(body, recorder.Body.String())
	})

	t.Run("no content responses are not encoded", func(t *testing.T) {
		req := require.New(t)

		noContent := NewCompressionHandler(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(http.StatusNoContent)
		}))

		request := httptest.NewRequest(http.MethodDelete, "/", nil)
		request.Header.Set("Accept-Encoding", "br")
		recorder := httptest.NewRecorder()

		noContent.ServeHTTP(recorder, request)

		req.Equal(http.StatusNoContent, recorder.Code)
		req.Empty(recorder.Header().Get("Content-Encoding"))
		req.Zero(recorder.Body.Len())
	})
}

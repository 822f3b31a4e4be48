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
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/michaelquigley/pfxlog"
)

const (
	EncodingBrotli = "br"

	headerAcceptEncoding  = "Accept-Encoding"
	headerContentEncoding = "Content-Encoding"
	headerContentLength   = "Content-Length"
	headerVary            = "Vary"
)

// NewCompressionHandler wraps handler so responses are brotli compressed for clients that accept it. Upgrade
// requests (web sockets) and responses that already carry a Content-Encoding are passed through untouched.
func NewCompressionHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Upgrade") != "" || !acceptsEncoding(request, EncodingBrotli) {
			handler.ServeHTTP(writer, request)
			return
		}

		compressor := &compressionWriter{ResponseWriter: writer}
		defer func() {
			if err := compressor.Close(); err != nil {
				pfxlog.Logger().WithError(err).Debug("could not finish compressed response")
			}
		}()

		handler.ServeHTTP(compressor, request)
	})
}

func acceptsEncoding(request *http.Request, encoding string) bool {
	for _, value := range request.Header.Values(headerAcceptEncoding) {
		for _, part := range strings.Split(value, ",") {
			name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
			if !strings.EqualFold(strings.TrimSpace(name), encoding) {
				continue
			}
			return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
		}
	}
	return false
}

// compressionWriter decides on the first write whether the response is compressed
type compressionWriter struct {
	http.ResponseWriter
	writer      *brotli.Writer
	decided     bool
	wroteHeader bool
}

func (w *compressionWriter) decide() {
	if w.decided {
		return
	}
	w.decided = true

	header := w.Header()
	header.Add(headerVary, headerAcceptEncoding)
	if header.Get(headerContentEncoding) != "" {
		return
	}
	header.Set(headerContentEncoding, EncodingBrotli)
	header.Del(headerContentLength)
	w.writer = brotli.NewWriterLevel(w.ResponseWriter, brotli.DefaultCompression)
}

func (w *compressionWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	// bodiless responses are never encoded
	if status == http.StatusNoContent || status == http.StatusNotModified || status < 200 {
		w.decided = true
	}
	w.decide()
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressionWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.writer == nil {
		return w.ResponseWriter.Write(b)
	}
	return w.writer.Write(b)
}

func (w *compressionWriter) Flush() {
	if w.writer != nil {
		_ = w.writer.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap allows http.ResponseController to reach the underlying writer
func (w *compressionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *compressionWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	return w.writer.Close()
}

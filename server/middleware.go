package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/NYTimes/logrotate"
	"github.com/gorilla/handlers"
	"github.com/rs/cors"
)

// MaxContentLength is the largest request body the aggregation stage will
// buffer. Larger requests are rejected with a 413 and the connection is closed.
const MaxContentLength = 1 << 20

// chunkSize is the size of each chunk written by the chunked stage.
const chunkSize = 8 << 10

type contextKey int

// key to retrieve the aggregated request body.
const bodyKey contextKey = 0

// NewPipeline returns the stage chain installed for every connection, in
// inbound order: aggregation, chunked response support, CORS and finally
// dispatch. Request decoding happens before it, in net/http.
func NewPipeline(d *Dispatcher) http.Handler {
	return AggregateHandler(ChunkedHandler(CORSHandler(d)), MaxContentLength)
}

// AggregateHandler is a middleware func that buffers the complete request body
// before calling f. The buffered body is available to f through r.Body and to
// the dispatch stage through the request context. Bodies larger than max are
// answered with a 413 and the connection is closed; a body that cannot be
// read aborts the connection without a response.
func AggregateHandler(f http.Handler, max int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > max {
			requestTooLarge(w)
			return
		}
		var body []byte
		if r.Body != nil && r.Body != http.NoBody {
			var err error
			body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, max))
			if err != nil {
				var mbe *http.MaxBytesError
				if errors.As(err, &mbe) {
					requestTooLarge(w)
					return
				}
				LogWithFields(r).Debug("aborting connection after body read error: ", err)
				panic(http.ErrAbortHandler)
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		f.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey, body)))
	})
}

func requestTooLarge(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Connection", "close")
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
}

func aggregatedBody(r *http.Request) []byte {
	body, _ := r.Context().Value(bodyKey).([]byte)
	return body
}

// chunkWriter is implemented by response writers installed by ChunkedHandler.
type chunkWriter interface {
	WriteChunks(src io.Reader) (int64, error)
}

// ChunkedHandler is a middleware func that lets handlers stream a response
// body of any size: see RequestContext.Stream.
func ChunkedHandler(f http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.ServeHTTP(&chunkedResponseWriter{ResponseWriter: w}, r)
	})
}

type chunkedResponseWriter struct {
	http.ResponseWriter
}

// WriteChunks copies src to the client, flushing after every chunk so the
// body goes out with chunked transfer encoding.
func (c *chunkedResponseWriter) WriteChunks(src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := c.ResponseWriter.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			c.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (c *chunkedResponseWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *chunkedResponseWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

// CORSHandler is a middleware func that allows any origin. Every response to
// a request carrying an Origin header gets 'Access-Control-Allow-Origin: *'
// and preflight requests are answered with a 200 without reaching f.
func CORSHandler(f http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost,
			http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:       []string{"*"},
		OptionsSuccessStatus: http.StatusOK,
	}).Handler(f)
}

// NewAccessLogMiddleware will wrap a logrotate-aware Apache-style access log handler
// around the given http.Handler if an access log location is provided,
// or optionally send access logs to stdout.
func NewAccessLogMiddleware(logLocation string, handler http.Handler) (http.Handler, error) {
	if logLocation == "" {
		return handler, nil
	}
	var lw io.Writer
	switch logLocation {
	case "stdout":
		lw = os.Stdout
	default:
		lf, err := logrotate.NewFile(logLocation)
		if err != nil {
			return nil, err
		}
		lw = lf
	}
	return handlers.CombinedLoggingHandler(lw, handler), nil
}

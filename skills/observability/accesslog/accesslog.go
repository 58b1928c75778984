// Package accesslog emits one structured log line per HTTP request and
// guards operational endpoints with basic auth, both as negroni
// middleware.
//
// An access line is an event, not a sentence: method, path, status,
// bytes, elapsed time and a request ID as zap fields, so the aggregator
// can filter on any of them without regexes. The request ID is minted
// at the edge with xid when the caller did not send one, echoed back in
// the response header, and stamped onto the request for downstream
// handlers, which makes one user report traceable across every service
// it touched.
//
// Severity follows the status class. Server errors log at error, client
// errors at warn, everything else at info, so an on-call grep for
// level=error surfaces exactly the requests the service itself broke.
//
// Skill metadata:
//
//	name: access-log
//	category: observability
//	tags: http, negroni, zap, middleware, request-id, basic-auth
//	level: intermediate
package accesslog

import (
	"net/http"
	"time"

	"github.com/goji/httpauth"
	"github.com/rs/xid"
	"github.com/urfave/negroni"
	"go.uber.org/zap"
)

// HeaderRequestID carries the request ID on both request and response.
const HeaderRequestID = "X-Request-Id"

// Logger is a negroni.Handler that logs one line per request.
type Logger struct {
	logger *zap.Logger
}

// NewLogger wraps l, tolerating nil.
func NewLogger(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{logger: l}
}

func (l *Logger) ServeHTTP(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	id := r.Header.Get(HeaderRequestID)
	if id == "" {
		id = xid.New().String()
		r.Header.Set(HeaderRequestID, id)
	}
	w.Header().Set(HeaderRequestID, id)

	res, ok := w.(negroni.ResponseWriter)
	if !ok {
		res = negroni.NewResponseWriter(w)
		w = res
	}

	start := time.Now()
	next(w, r)

	status := res.Status()
	if status == 0 {
		// Nothing was written; net/http would have sent 200.
		status = http.StatusOK
	}
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Int("bytes", res.Size()),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("request_id", id),
		zap.String("remote", r.RemoteAddr),
	}
	switch {
	case status >= 500:
		l.logger.Error("request", fields...)
	case status >= 400:
		l.logger.Warn("request", fields...)
	default:
		l.logger.Info("request", fields...)
	}
}

// BasicAuth is a negroni.Handler admitting a single operator account.
type BasicAuth struct {
	Username string
	Password string
}

func (a *BasicAuth) ServeHTTP(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	httpauth.SimpleBasicAuth(a.Username, a.Password)(next).ServeHTTP(w, r)
}

// Protected assembles the usual chain for an operational endpoint:
// access logging outermost, then basic auth, then h.
func Protected(logger *zap.Logger, username, password string, h http.Handler) http.Handler {
	n := negroni.New(NewLogger(logger), &BasicAuth{Username: username, Password: password})
	n.UseHandler(h)
	return n
}

// RequestID returns the ID stamped on r by the Logger middleware.
func RequestID(r *http.Request) string {
	return r.Header.Get(HeaderRequestID)
}

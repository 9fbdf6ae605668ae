package api

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// tokenParam carries the shared secret on websocket upgrades, where browser
// clients cannot set request headers.
const tokenParam = "token"

// requireSecret rejects requests that do not present the shared secret as a
// bearer token or X-API-Key header. With allowQuery the token query parameter
// is accepted too. It is a no-op when no secret is set.
func (a *API) requireSecret(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	if a.secret == "" {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r, allowQuery) {
			if a.metrics != nil {
				a.metrics.AuthFailures.Inc()
			}
			a.logger.Warn("rejected unauthenticated request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="airguard"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next(w, r)
	}
}

func (a *API) authorized(r *http.Request, allowQuery bool) bool {
	presented := r.Header.Get("X-API-Key")
	if presented == "" {
		auth := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			presented = strings.TrimSpace(token)
		}
	}
	if presented == "" && allowQuery {
		presented = r.URL.Query().Get(tokenParam)
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.secret)) == 1
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not implement http.Hijacker")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument records request count, latency and in-flight requests per route.
func (a *API) instrument(route string, next http.Handler) http.Handler {
	if a.metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlight := a.metrics.RequestsInFlight.WithLabelValues(route)
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		a.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		a.metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

package httpx

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/apierr"
)

// HandlerFunc is the contract business handlers implement. A returned error is
// translated into the uniform wire shape by the wrapping stage; handlers never
// write error bodies themselves.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wireErrorBody struct {
	Error wireError `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError emits the uniform error body. Internal detail never reaches the
// wire; unclassified causes are logged server-side by the caller.
func WriteError(w http.ResponseWriter, e *apierr.Error) {
	if e.RetryAfter > 0 {
		secs := int(e.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	WriteJSON(w, e.Status, wireErrorBody{Error: wireError{Code: e.Code, Message: e.Message}})
}

// statusWriter records whether the handler already started a response, so the
// translator never attempts a second write.
type statusWriter struct {
	http.ResponseWriter
	wrote bool
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.wrote = true
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wrote = true
	return sw.ResponseWriter.Write(b)
}

// Wrap is the terminal pipeline stage: it invokes the handler and routes any
// failure (returned error or panic) through the error translator.
func Wrap(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				if !sw.wrote {
					WriteError(sw.ResponseWriter, apierr.Internal(nil))
				}
			}
		}()
		err := h(sw, r)
		if err == nil {
			return
		}
		e := apierr.Translate(err)
		if e.Code == "INTERNAL_ERROR" {
			log.Printf("unclassified failure serving %s %s: %v", r.Method, r.URL.Path, err)
		}
		if sw.wrote {
			// Response already in flight; surface for operability only.
			log.Printf("late failure after response started on %s %s: %v", r.Method, r.URL.Path, err)
			return
		}
		WriteError(sw.ResponseWriter, e)
	}
}

// NotFoundHandler keeps unmatched routes on the uniform error shape.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, apierr.NotFound("no route matches "+r.Method+" "+r.URL.Path))
	}
}

// MethodNotAllowedHandler reports path matches with the wrong method as
// NOT_FOUND: the route table is keyed by (method, path).
func MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, apierr.NotFound("no route matches "+r.Method+" "+r.URL.Path))
	}
}

// SecurityHeadersMiddleware applies baseline hardening headers to API responses.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware enforces an explicit origin allowlist from comma-separated origins.
func CORSMiddleware(allowedOrigins string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	allowAll := false
	for _, part := range strings.Split(allowedOrigins, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if origin == "*" {
			allowAll = true
			continue
		}
		allowed[origin] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !allowAll {
				if _, ok := allowed[origin]; !ok {
					if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
						WriteError(w, apierr.Forbidden("origin not allowed"))
						return
					}
					next.ServeHTTP(w, r)
					return
				}
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
			if reqHeaders == "" {
				reqHeaders = "Authorization,Content-Type"
			}
			h.Set("Access-Control-Allow-Headers", reqHeaders)
			h.Set("Access-Control-Max-Age", "600")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

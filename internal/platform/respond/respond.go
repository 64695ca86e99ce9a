// Package respond renders RFC 9457 problem documents for failures that happen
// outside huma operations: unknown routes, unsupported methods and panics.
package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	applog "github.com/janisto/hello-api/internal/platform/logging"
)

const (
	contentTypeProblemJSON = "application/problem+json"
	contentTypeProblemCBOR = "application/problem+cbor"

	msgNotFound         = "resource not found"
	msgInternalError    = "internal server error"
	msgMethodNotAllowed = "method %s not allowed"
)

// WriteProblem writes a problem document for status, negotiated from the
// request's Accept header. 5xx are logged at error severity, 4xx at warning.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string, cause error) {
	problem := &huma.ErrorModel{
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
	logProblem(r.Context(), problem, cause)

	contentType, body, err := encodeProblem(r.Header.Get("Accept"), problem)
	if err != nil {
		applog.LogError(r.Context(), "failed to encode problem", err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// NotFoundHandler answers requests that matched no route.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusNotFound, msgNotFound, nil)
	}
}

// MethodNotAllowedHandler answers requests whose path exists under another
// method, listing the supported methods in the Allow header.
func MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if allow := allowedMethods(r); len(allow) > 0 {
			w.Header().Set("Allow", strings.Join(allow, ", "))
		}
		WriteProblem(w, r, http.StatusMethodNotAllowed, fmt.Sprintf(msgMethodNotAllowed, r.Method), nil)
	}
}

// Recoverer converts panics into 500 problem documents. http.ErrAbortHandler is
// re-panicked so net/http can abort the connection, and nothing is written if
// the handler already started the response.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				err := fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
				if rw.wroteHeader {
					applog.LogError(r.Context(), "panic after response started", err)
					return
				}
				WriteProblem(rw, r, http.StatusInternalServerError, msgInternalError, err)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// responseWriter records whether the status line has been sent.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func encodeProblem(accept string, problem *huma.ErrorModel) (string, []byte, error) {
	if prefersCBOR(accept) {
		body, err := cbor.Marshal(problem)
		return contentTypeProblemCBOR, body, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(problem); err != nil {
		return "", nil, err
	}
	return contentTypeProblemJSON, buf.Bytes(), nil
}

// prefersCBOR reports whether the Accept header ranks CBOR strictly above
// JSON. Wildcards count towards JSON, which stays the default.
func prefersCBOR(accept string) bool {
	if strings.TrimSpace(accept) == "" {
		return false
	}
	cborQ, jsonQ := 0.0, 0.0
	for part := range strings.SplitSeq(accept, ",") {
		mediaType, q, ok := parseMediaRange(part)
		if !ok {
			continue
		}
		switch mediaType {
		case "application/cbor", "application/problem+cbor", "application/*+cbor":
			cborQ = max(cborQ, q)
		case "application/json", "application/problem+json", "application/*+json", "application/*", "*/*":
			jsonQ = max(jsonQ, q)
		}
	}
	return cborQ > jsonQ
}

// parseMediaRange splits "type/subtype;q=0.5" into a lowercased media type and
// its quality. Malformed ranges are reported as not ok.
func parseMediaRange(part string) (string, float64, bool) {
	segments := strings.Split(part, ";")
	mediaType := strings.ToLower(strings.TrimSpace(segments[0]))
	if mediaType == "" || !strings.Contains(mediaType, "/") {
		return "", 0, false
	}
	q := 1.0
	for _, param := range segments[1:] {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return "", 0, false
		}
		q = parsed
	}
	return mediaType, q, true
}

// allowedMethods probes chi's route tree for the methods registered on the request path.
func allowedMethods(r *http.Request) []string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.Routes == nil {
		return nil
	}
	routePath := rctx.RoutePath
	if routePath == "" {
		routePath = r.URL.RawPath
		if routePath == "" {
			routePath = r.URL.Path
		}
		if routePath == "" {
			routePath = "/"
		}
	}

	var allowed []string
	for _, method := range []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	} {
		if rctx.Routes.Match(chi.NewRouteContext(), method, routePath) {
			allowed = append(allowed, method)
		}
	}
	return allowed
}

func logProblem(ctx context.Context, problem *huma.ErrorModel, cause error) {
	fields := problemFields(ctx, problem)
	switch {
	case problem.Status >= http.StatusInternalServerError:
		applog.LogError(ctx, problem.Title, cause, fields...)
	default:
		if cause != nil {
			fields = append(fields, zap.Error(cause))
		}
		applog.LogWarn(ctx, problem.Title, fields...)
	}
}

// problemFields describes a problem for the log, correlated by the trace id
// RequestLogger stored on the context.
func problemFields(ctx context.Context, problem *huma.ErrorModel) []zap.Field {
	fields := []zap.Field{
		zap.Int("status", problem.Status),
		zap.String("detail", problem.Detail),
		zap.String("instance", problem.Instance),
	}
	if traceID := applog.TraceIDFromContext(ctx); traceID != nil {
		fields = append(fields, zap.String("traceId", *traceID))
	}
	return fields
}

package respond

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	applog "github.com/janisto/hello-api/internal/platform/logging"
)

func newTestRouter() chi.Router {
	router := chi.NewRouter()
	router.NotFound(NotFoundHandler())
	router.MethodNotAllowed(MethodNotAllowedHandler())
	router.Use(Recoverer())
	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	return router
}

func decodeJSONProblem(t *testing.T, resp *httptest.ResponseRecorder) huma.ErrorModel {
	t.Helper()
	if ct := resp.Header().Get("Content-Type"); ct != contentTypeProblemJSON {
		t.Fatalf("expected %s, got %q", contentTypeProblemJSON, ct)
	}
	var problem huma.ErrorModel
	if err := json.Unmarshal(resp.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to unmarshal problem: %v", err)
	}
	return problem
}

func TestNotFoundHandlerReturnsProblemDetails(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/nonexistent", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	problem := decodeJSONProblem(t, resp)
	if problem.Status != http.StatusNotFound || problem.Title != "Not Found" {
		t.Fatalf("unexpected problem: %+v", problem)
	}
	if problem.Detail != msgNotFound {
		t.Fatalf("unexpected detail: %s", problem.Detail)
	}
	if problem.Instance != "/nonexistent" {
		t.Fatalf("unexpected instance: %s", problem.Instance)
	}
}

func TestMethodNotAllowedHandlerReturnsProblemDetails(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/health", nil))

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if allow := resp.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow: GET, got %q", allow)
	}
	problem := decodeJSONProblem(t, resp)
	if problem.Title != "Method Not Allowed" {
		t.Fatalf("unexpected title: %s", problem.Title)
	}
	if !strings.Contains(problem.Detail, http.MethodPost) {
		t.Fatalf("expected detail to mention POST, got %s", problem.Detail)
	}
}

func TestRecovererReturnsProblemDetails(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	problem := decodeJSONProblem(t, resp)
	if problem.Title != "Internal Server Error" || problem.Detail != msgInternalError {
		t.Fatalf("unexpected problem: %+v", problem)
	}
}

func TestRecovererWithErrorPanic(t *testing.T) {
	handler := Recoverer()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("typed failure"))
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/hello", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestRecovererRePanicsOnErrAbortHandler(t *testing.T) {
	handler := Recoverer()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		rec := recover()
		err, ok := rec.(error)
		if !ok || !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected http.ErrAbortHandler to be re-panicked, got %v", rec)
		}
	}()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
	t.Fatal("expected panic to propagate")
}

func TestRecovererSkipsWriteWhenHeaderAlreadyWritten(t *testing.T) {
	handler := Recoverer()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial response"))
		panic("panic after write")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/partial", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected handler status 200 to be preserved, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "partial response" {
		t.Fatalf("expected handler body to be preserved, got %q", body)
	}
}

func TestNotFoundHandlerReturnsCBORWhenAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set("Accept", "application/cbor")
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, req)

	if ct := resp.Header().Get("Content-Type"); ct != contentTypeProblemCBOR {
		t.Fatalf("expected %s, got %q", contentTypeProblemCBOR, ct)
	}
	var problem huma.ErrorModel
	if err := cbor.Unmarshal(resp.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to unmarshal CBOR problem: %v", err)
	}
	if problem.Status != http.StatusNotFound || problem.Title != "Not Found" {
		t.Fatalf("unexpected problem: %+v", problem)
	}
}

func TestPrefersCBOR(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"*/*", false},
		{"application/*", false},
		{"application/json", false},
		{"application/cbor", true},
		{"application/problem+cbor", true},
		{"application/cbor, */*;q=0.1", true},
		{"application/json, application/cbor", false},
		{"application/json;q=0.5, application/cbor", true},
		{"application/cbor;q=0, application/json", false},
		{"application/cbor;q=2", false},
		{"application/cbor;q=abc", false},
		{"cbor", false},
		{"APPLICATION/CBOR", true},
	}
	for _, tt := range tests {
		if got := prefersCBOR(tt.accept); got != tt.want {
			t.Errorf("prefersCBOR(%q) = %v, want %v", tt.accept, got, tt.want)
		}
	}
}

func TestParseMediaRange(t *testing.T) {
	mediaType, q, ok := parseMediaRange(" Application/JSON ; charset=utf-8; q=0.8 ")
	if !ok || mediaType != "application/json" || q != 0.8 {
		t.Fatalf("unexpected parse: %q %v %v", mediaType, q, ok)
	}
	if _, _, ok := parseMediaRange(""); ok {
		t.Fatal("expected empty range to be rejected")
	}
}

func TestJSONProblemHasNoHTMLEscaping(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/a<b>", nil)
	resp := httptest.NewRecorder()
	NotFoundHandler().ServeHTTP(resp, req)

	if !strings.Contains(resp.Body.String(), `"/a<b>"`) {
		t.Fatalf("expected unescaped instance, got %s", resp.Body.String())
	}
}

func TestResponseWriterTracksHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec}
	if rw.wroteHeader {
		t.Fatal("expected wroteHeader to start false")
	}
	if _, err := rw.Write([]byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rw.wroteHeader {
		t.Fatal("expected wroteHeader after Write")
	}
	if rw.Unwrap() != rec {
		t.Fatal("expected Unwrap to return the underlying writer")
	}
}

func TestAllowedMethodsNilRouteContext(t *testing.T) {
	if got := allowedMethods(httptest.NewRequest(http.MethodGet, "/", nil)); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func fieldValue(fields []zap.Field, key string) (string, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f.String, true
		}
	}
	return "", false
}

func TestProblemFieldsIncludeTraceID(t *testing.T) {
	var ctx context.Context
	handler := applog.RequestLogger()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	req = req.WithContext(context.WithValue(req.Context(), chimiddleware.RequestIDKey, "problem-req-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	problem := &huma.ErrorModel{Status: http.StatusNotFound, Detail: msgNotFound, Instance: "/nonexistent"}
	fields := problemFields(ctx, problem)

	if got, ok := fieldValue(fields, "traceId"); !ok || got != "problem-req-1" {
		t.Fatalf("expected traceId problem-req-1, got %q (present=%v)", got, ok)
	}
	if got, _ := fieldValue(fields, "instance"); got != "/nonexistent" {
		t.Fatalf("expected instance /nonexistent, got %q", got)
	}
}

func TestProblemFieldsWithoutTraceID(t *testing.T) {
	problem := &huma.ErrorModel{Status: http.StatusInternalServerError, Detail: msgInternalError}
	if _, ok := fieldValue(problemFields(context.Background(), problem), "traceId"); ok {
		t.Fatal("did not expect traceId without request context")
	}
}

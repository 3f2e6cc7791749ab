package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Mindburn-Labs/helm/settlement/pkg/api"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return problem
}

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	problem := decodeProblem(t, w)
	if problem.Status != 400 || problem.Detail != "field is missing" {
		t.Errorf("unexpected problem %+v", problem)
	}
}

func TestWriteProtoError_Kinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{protoerr.New(protoerr.KindNotFound, "registry.Read", "record x"), http.StatusNotFound, "SETTLE/CORE/NOT_FOUND"},
		{protoerr.New(protoerr.KindDecode, "vote.Demand", "bad"), http.StatusBadRequest, "SETTLE/CORE/DECODE"},
		{protoerr.New(protoerr.KindRevoked, "escrow.Collect", "gone"), http.StatusConflict, "SETTLE/CORE/REVOKED"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/v1/records/x", nil)
		api.WriteProtoError(w, r, tt.err)
		if w.Code != tt.status {
			t.Errorf("%v: expected status %d, got %d", tt.err, tt.status, w.Code)
		}
		problem := decodeProblem(t, w)
		if problem.Code != tt.code || problem.Instance != "/v1/records/x" {
			t.Errorf("%v: unexpected problem %+v", tt.err, problem)
		}
	}
}

func TestWriteProtoError_SanitizesInternal(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/schemas", nil)
	api.WriteProtoError(w, r, errors.New("pq: connection refused to host=10.0.0.1"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if problem := decodeProblem(t, w); problem.Detail == "pq: connection refused to host=10.0.0.1" {
		t.Error("internal error details leaked to client")
	}
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	if ra := w.Header().Get("Retry-After"); ra != "30" {
		t.Errorf("expected Retry-After '30', got %q", ra)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
}

package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantType   ErrorType
		wantStatus int
	}{
		{"deadline", context.DeadlineExceeded, ErrAPI, http.StatusGatewayTimeout},
		{"cancelled", context.Canceled, ErrAPI, http.StatusRequestTimeout},
		{"canonical invalid", InvalidParam("model", "model is required"), ErrInvalidRequest, http.StatusBadRequest},
		{"canonical upstream", New(ErrUpstream, "gemini unavailable"), ErrUpstream, http.StatusBadGateway},
		{"canonical not found", New(ErrNotFound, "no such route"), ErrNotFound, http.StatusNotFound},
		{"unknown", errors.New("boom"), ErrAPI, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, status := FromError(tt.err, "req_1")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if payload.Type != tt.wantType {
				t.Errorf("type = %q, want %q", payload.Type, tt.wantType)
			}
			if payload.RequestID != "req_1" {
				t.Errorf("request_id = %q, want req_1", payload.RequestID)
			}
		})
	}
}

func TestFromErrorUnknownDoesNotLeak(t *testing.T) {
	payload, _ := FromError(errors.New("dsn=postgres://secret"), "")
	if payload.Message != "internal error" {
		t.Errorf("message = %q, want generic internal error", payload.Message)
	}
}

func TestWriteEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, InvalidParam("operation", "unsupported operation"), "req_2")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || env.Error.Param != "operation" {
		t.Errorf("envelope = %+v", env.Error)
	}
}

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	tokensapp "github.com/CuckCybsacTEST/tokensapp"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{tokensapp.ErrNotFound, http.StatusNotFound},
		{tokensapp.ErrExpired, http.StatusGone},
		{tokensapp.ErrInvalidSignature, http.StatusBadRequest},
		{fmt.Errorf("%w: blank owner", tokensapp.ErrInvalidRequest), http.StatusBadRequest},
		{tokensapp.ErrAlreadyRedeemed, http.StatusConflict},
		{tokensapp.ErrTokenExhausted, http.StatusConflict},
		{tokensapp.ErrTokenDisabled, http.StatusConflict},
		{tokensapp.NewPreconditionError("owner_not_yet_active", "", tokensapp.ErrOwnerNotYetActive), http.StatusPreconditionFailed},
		{tokensapp.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: dial", tokensapp.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("unknown"), http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestClientContextAttachesIPAndActor(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		wantIP     string
	}{
		{name: "trusted proxy", trustProxy: true, wantIP: "203.0.113.7"},
		{name: "direct", trustProxy: false, wantIP: "10.0.0.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotIP, gotActor string
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotIP = tokensapp.ClientIPFromContext(r.Context())
				gotActor = tokensapp.ActorIDFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodPost, "/redeem", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			req.Header.Set(ActorHeader, "staff-9")
			rec := httptest.NewRecorder()

			ClientContext(tc.trustProxy)(inner).ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Fatalf("unexpected status %d", rec.Code)
			}
			if gotIP != tc.wantIP {
				t.Fatalf("expected ip %q, got %q", tc.wantIP, gotIP)
			}
			if gotActor != "staff-9" {
				t.Fatalf("expected actor staff-9, got %q", gotActor)
			}
		})
	}
}

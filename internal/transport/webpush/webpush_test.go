package webpush

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"push-engine/internal/dispatch"
	"push-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliver_Classification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       dispatch.OutcomeClass
	}{
		{"created is accepted", http.StatusCreated, dispatch.OutcomeAccepted},
		{"ok is accepted", http.StatusOK, dispatch.OutcomeAccepted},
		{"gone deactivates", http.StatusGone, dispatch.OutcomeGone},
		{"not found deactivates", http.StatusNotFound, dispatch.OutcomeGone},
		{"too many requests is transient", http.StatusTooManyRequests, dispatch.OutcomeTransient},
		{"server error is transient", http.StatusInternalServerError, dispatch.OutcomeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			tr := New(5*time.Second, 3600)
			outcome := tr.Deliver(context.Background(), models.PushSubscription{Endpoint: srv.URL}, dispatch.Payload{Title: "t", Body: "b"})
			assert.Equal(t, tt.want, outcome.Class)
		})
	}
}

func TestDeliver_SendsPayloadAndHeaders(t *testing.T) {
	var (
		gotTTL  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTTL = r.Header.Get("TTL")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tr := New(5*time.Second, 3600)
	payload := dispatch.Payload{Title: "Sale", Body: "Starts now", URL: "https://example.com"}
	outcome := tr.Deliver(context.Background(), models.PushSubscription{Endpoint: srv.URL}, payload)
	require.Equal(t, dispatch.OutcomeAccepted, outcome.Class)

	assert.Equal(t, "3600", gotTTL)
	var decoded dispatch.Payload
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestDeliver_ContextTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tr := New(5*time.Second, 3600)
	outcome := tr.Deliver(ctx, models.PushSubscription{Endpoint: srv.URL}, dispatch.Payload{Title: "t", Body: "b"})
	assert.Equal(t, dispatch.OutcomeTransient, outcome.Class)
	assert.Error(t, outcome.Err)
}

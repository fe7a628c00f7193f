package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
}

func TestSendAddsSigningHeaders(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testClient(1).Send(context.Background(), srv.URL, EventJobSucceeded, map[string]any{"job_id": "job-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, gotTS)
	assert.Equal(t, EventJobSucceeded, gotEvt)
	assert.True(t, Verify("test-secret", gotTS, gotBody, gotSig))
	assert.False(t, Verify("other-secret", gotTS, gotBody, gotSig))
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, testClient(3).Send(context.Background(), srv.URL, EventJobFailed, struct{}{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendStopsOnClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := testClient(5).Send(context.Background(), srv.URL, EventJobFailed, struct{}{})
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	assert.NoError(t, testClient(1).Send(context.Background(), "  ", EventJobSucceeded, nil))
}

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-ci/internal/core/domain"
)

func TestDeliverPostsResult(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	id := domain.NewBuildID()
	n := NewNotifier(time.Second, nil)
	err := n.Deliver(srv.URL, id, domain.BuildResult{Status: domain.StatusFailed})
	require.NoError(t, err)

	body := <-got
	assert.Equal(t, id.String(), body["id"])
	assert.Equal(t, "FAILED", body["status"])
	assert.Equal(t, []any{}, body["logLines"])
}

func TestDeliverReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewNotifier(time.Second, nil).Deliver(srv.URL, domain.NewBuildID(), domain.BuildResult{Status: domain.StatusSucceeded})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestCallbackDeliversAsynchronousResult(t *testing.T) {
	got := make(chan domain.BuildResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p ResultPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got <- p.BuildResult
	}))
	defer srv.Close()

	cb := NewNotifier(time.Second, nil).Callback(srv.URL)
	cb.OnResult(domain.NewBuildID(), domain.BuildResult{Status: domain.StatusSucceeded, LogLines: []string{"hi"}})

	select {
	case r := <-got:
		assert.Equal(t, domain.BuildResult{Status: domain.StatusSucceeded, LogLines: []string{"hi"}}, r)
	case <-time.After(5 * time.Second):
		t.Fatal("callback not received")
	}
}

func TestCallbackWithoutURLDoesNothing(t *testing.T) {
	cb := NewNotifier(time.Second, nil).Callback("")
	assert.NotPanics(t, func() {
		cb.OnResult(domain.NewBuildID(), domain.BuildResult{Status: domain.StatusFailed})
	})
}

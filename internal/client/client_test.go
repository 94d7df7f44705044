package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

func TestStartUsesIssuedConsent(t *testing.T) {
	var got models.StartRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/capture/consent", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(models.ConsentResponse{Token: "t1", ResultCode: 1})
	})
	mux.HandleFunc("/api/v1/recorder/start", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(models.CommandResponse{Command: "start", Queued: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewRecorderClient(srv.URL)
	resp, err := c.Start(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.Equal(t, models.StartRequest{Token: "t1", ResultCode: 1, Rotation: 3}, got)
}

func TestStatusErrorCarriesKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: "no grant", Kind: "permission_denied"})
	}))
	defer srv.Close()

	_, err := NewRecorderClient(srv.URL).SetLocation(context.Background(), "tree:///x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "permission_denied", se.Kind)
	assert.Contains(t, err.Error(), "no grant")
}

func TestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := NewRecorderClient(srv.URL).LastRecording(context.Background())
	assert.True(t, IsNotFound(err))
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(models.Status{State: "STOPPED"})
	}))
	defer srv.Close()

	st, err := NewRecorderClient(srv.URL).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", st.State)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBareAddress(t *testing.T) {
	c := NewRecorderClient("127.0.0.1:7420/")
	assert.Equal(t, "http://127.0.0.1:7420", c.baseURL)
}

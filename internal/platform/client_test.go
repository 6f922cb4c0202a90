package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(int) time.Duration { return 0 }

func TestFetchSupports(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/public/supports", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("page"))
		assert.Equal(t, "secret-key", r.Header.Get("key"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","status_code":200,"result":{"data":[
			{"supporter_name":"bob","support_message":"gl hf","quantity":2,"amount":20000,"unit_name":"Kopi","updated_at":"2024-05-01 18:30:00"},
			{"supporter_name":"alice","support_message":"","quantity":1,"amount":10000,"unit_name":"Kopi","updated_at":"2024-05-01 17:00:00"}
		]}}`))
	}))
	defer server.Close()

	client := New(Options{BaseURL: server.URL + "/v1/public/", Timeout: time.Second, MaxRetries: 1, Backoff: noWait})
	supports, err := client.FetchSupports(context.Background(), "secret-key", 5, 1)
	require.NoError(t, err)
	require.Len(t, supports, 2)

	assert.Equal(t, "alice", supports[0].SupporterName)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), supports[0].UpdatedAt)
	assert.Equal(t, "bob", supports[1].SupporterName)
	assert.True(t, decimal.NewFromInt(20000).Equal(supports[1].Amount))
	assert.Equal(t, 2, supports[1].Quantity)
}

func TestFetchSupportsRequestsLaterPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"status":"success","status_code":200,"result":{"data":[]}}`))
	}))
	defer server.Close()

	client := New(Options{BaseURL: server.URL + "/", Timeout: time.Second, MaxRetries: 1, Backoff: noWait})
	_, err := client.FetchSupports(context.Background(), "key", 5, 3)
	require.NoError(t, err)
}

func TestFetchSupportsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(Options{BaseURL: server.URL + "/", Timeout: time.Second, MaxRetries: 1, Backoff: noWait})
	_, err := client.FetchSupports(context.Background(), "bad", 5, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestFetchSupportsRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","status_code":200,"result":{"data":[]}}`))
	}))
	defer server.Close()

	client := New(Options{BaseURL: server.URL + "/", Timeout: time.Second, MaxRetries: 3, Backoff: noWait})
	supports, err := client.FetchSupports(context.Background(), "key", 5, 1)
	require.NoError(t, err)
	assert.Empty(t, supports)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetchSupportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","status_code":422,"message":"invalid limit"}`))
	}))
	defer server.Close()

	client := New(Options{BaseURL: server.URL + "/", Timeout: time.Second, MaxRetries: 1, Backoff: noWait})
	_, err := client.FetchSupports(context.Background(), "key", 5, 1)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.Equal(t, "invalid limit", apiErr.Message)
}

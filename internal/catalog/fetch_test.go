package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"brickcache-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Get_SendsHeaders(t *testing.T) {
	var gotUA, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		UserAgent: "Mozilla/5.0 test",
		Headers:   map[string]string{"Authorization": "key abc"},
	})
	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, "Mozilla/5.0 test", gotUA)
	assert.Equal(t, "key abc", gotAuth)
}

func TestFetcher_Get_Non2xxIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher(FetcherOptions{}).Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, model.ErrUnavailable)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestFetcher_Get_TimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewFetcher(FetcherOptions{Timeout: 50 * time.Millisecond}).Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, model.ErrUnavailable)
	assert.False(t, model.IsAborted(err))
}

func TestFetcher_Get_CallerAbortIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := NewFetcher(FetcherOptions{Timeout: 5 * time.Second}).Get(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, model.IsAborted(err))
	assert.False(t, errors.Is(err, model.ErrUnavailable))
}

func TestFetcher_Get_CancelWhilePacedReturnsPromptly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{RequestsPerSecond: 1})
	_, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = f.Get(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

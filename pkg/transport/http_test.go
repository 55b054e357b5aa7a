package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
)

func TestFetchReturnsRequestedRange(t *testing.T) {
	payload := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=4-9", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[4:10])
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil)
	got, err := tr.Fetch(context.Background(), FetchRequest{URL: srv.URL, Offset: 4, Length: 6})
	require.NoError(t, err)
	assert.Equal(t, payload[4:10], got)
}

func TestFetchValidatorMismatchIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil)
	_, err := tr.Fetch(context.Background(), FetchRequest{URL: srv.URL, Offset: 0, Length: 4, Validators: Validators{ETag: `"abc"`}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ioerrors.ErrValidatorMismatch)
}

func TestFetchRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int
	payload := []byte("hello")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil)
	tr.retry.initialBackoff = 0
	got, err := tr.Fetch(context.Background(), FetchRequest{URL: srv.URL, Offset: 0, Length: uint64(len(payload))})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 2, calls)
}

func TestFetchContextCancelAbortsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewHTTPTransport(nil)
	_, err := tr.Fetch(ctx, FetchRequest{URL: srv.URL, Offset: 0, Length: 4})
	require.Error(t, err)
}

func TestFetchStreamDeliversAllPieces(t *testing.T) {
	payload := strings.Repeat("x", 600*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil)
	var received int
	err := tr.FetchStream(context.Background(), StreamRequest{URL: srv.URL, Offset: 0, Length: uint64(len(payload))}, func(data []byte) error {
		received += len(data)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(payload), received)
}

func TestFetchStreamPrematureEOF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil)
	err := tr.FetchStream(context.Background(), StreamRequest{URL: srv.URL, Offset: 0, Length: 1000}, func(data []byte) error {
		return nil
	})
	require.Error(t, err)
}

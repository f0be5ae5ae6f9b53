package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_RoundTrip(t *testing.T) {
	s := NewFSStore(t.TempDir())
	ctx := context.Background()

	key, err := s.Put(ctx, "score-backups/2026/08/30/abc.json", []byte(`{"history": []}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "score-backups/2026/08/30/abc.json", key)

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"history": []}`, string(data))
}

func TestFSStore_GetMissing(t *testing.T) {
	s := NewFSStore(t.TempDir())
	_, err := s.Get(context.Background(), "nope.json")
	assert.Error(t, err)
}

func TestHTTPStore_GetPresignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/recordings/a.wav", r.URL.Path)
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	s := NewHTTPStore("")
	data, err := s.Get(context.Background(), srv.URL+"/recordings/a.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), data)
}

func TestHTTPStore_GetNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewHTTPStore("")
	_, err := s.Get(context.Background(), srv.URL+"/expired-signature")
	assert.Error(t, err)
}

func TestHTTPStore_Put(t *testing.T) {
	var gotPath, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL)
	stored, err := s.Put(context.Background(), "backups/x.json", []byte("{}"), "application/json")
	require.NoError(t, err)

	assert.Equal(t, "/backups/x.json", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, srv.URL+"/backups/x.json", stored)
}

func TestHTTPStore_PutRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL)
	_, err := s.Put(context.Background(), "backups/x.json", []byte("{}"), "application/json")
	assert.Error(t, err)
}

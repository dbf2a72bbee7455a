package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "github.com/videoblade/videoblade-api/configs"
)

// fakeBucket answers the handful of path-style S3 calls the storage issues.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		obj, ok := b.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj)
	case http.MethodDelete:
		delete(b.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestR2StorageRoundTrip(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	srv := httptest.NewServer(bucket)
	defer srv.Close()

	store, err := NewR2Storage(context.Background(), config.R2{
		AccessKey:  "key",
		SecretKey:  "secret",
		BucketName: "videos",
		Endpoint:   srv.URL,
	})
	require.NoError(t, err)

	payload := []byte("not really a video")
	require.NoError(t, store.Put(context.Background(), "staged/abc.mp4", bytes.NewReader(payload), int64(len(payload)), "video/mp4"))
	assert.Contains(t, bucket.objects, "/videos/staged/abc.mp4")

	body, size, err := store.Open(context.Background(), "staged/abc.mp4")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), size)

	require.NoError(t, store.Delete(context.Background(), "staged/abc.mp4"))
	_, _, err = store.Open(context.Background(), "staged/abc.mp4")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

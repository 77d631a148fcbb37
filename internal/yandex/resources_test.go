package yandex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondyne/disksync/internal/cloudpath"
)

func TestListChildren_ParsesEmbeddedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Photos", r.URL.Query().Get("path"))
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"name": "Photos",
			"type": "dir",
			"_embedded": {
				"items": [
					{"name": "a.jpg", "type": "file", "size": 100, "modified": "2024-01-01T00:00:00+00:00"},
					{"name": "sub", "type": "dir", "size": 0, "modified": "2024-01-01T00:00:00+00:00"}
				]
			}
		}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	nodes, err := client.ListChildren(context.Background(), cloudpath.Cloud("/Photos"))
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, cloudpath.Cloud("/Photos/a.jpg"), nodes[0].Path)
	assert.Equal(t, KindFile, nodes[0].Kind)
	assert.Equal(t, int64(100), nodes[0].Size)

	assert.Equal(t, cloudpath.Cloud("/Photos/sub"), nodes[1].Path)
	assert.Equal(t, KindDir, nodes[1].Kind)
}

func TestListChildren_NoChildrenReturnsNilNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name": "Empty", "type": "dir"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	nodes, err := client.ListChildren(context.Background(), cloudpath.Cloud("/Empty"))
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestCreateFolder_NewFolderReturnsCreatedTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	created, err := client.CreateFolder(context.Background(), cloudpath.Cloud("/Photos"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCreateFolder_ConflictIsSuccessNotCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	created, err := client.CreateFolder(context.Background(), cloudpath.Cloud("/Photos"))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCreateFolder_OtherErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.CreateFolder(context.Background(), cloudpath.Cloud("/Photos/Sub"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_AcceptsAsync202(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	err := client.Delete(context.Background(), cloudpath.Cloud("/Photos/a.jpg"))
	require.NoError(t, err)
}

func TestQuota_ParsesUsedAndTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"total_space": 1000, "used_space": 400}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	q, err := client.Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), q.Total)
	assert.Equal(t, int64(400), q.Used)
	assert.Equal(t, int64(600), q.Free())
}

func TestQuota_UnknownTotalReportsZeroFree(t *testing.T) {
	q := Quota{Used: 100, Total: 0}
	assert.Equal(t, int64(0), q.Free())
}

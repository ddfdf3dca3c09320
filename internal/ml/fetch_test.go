package ml

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchModel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testModel(deepTree(), leafTree(42)).Encode(&buf))
	srv := modelServer(t, http.StatusOK, buf.Bytes())

	dest := filepath.Join(t.TempDir(), "models", "rsf_model.json")
	model, err := FetchModel(context.Background(), srv.URL, dest, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, model.NEstimators())

	loaded, err := LoadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, model.FeatureNames, loaded.FeatureNames)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFetchModelKeepsExistingOnFailure(t *testing.T) {
	dir := t.TempDir()
	dest := writeModel(t, dir, "rsf_model.json", testModel(leafTree(7)))
	before, err := os.ReadFile(dest)
	require.NoError(t, err)

	tests := []struct {
		name   string
		status int
		body   []byte
	}{
		{"not found", http.StatusNotFound, []byte(`{"error":"missing"}`)},
		{"invalid artifact", http.StatusOK, []byte(`{"feature_names":["age"],"n_estimators":0,"trees":[]}`)},
		{"not json", http.StatusOK, []byte(`<html></html>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := modelServer(t, tt.status, tt.body)
			_, err := FetchModel(context.Background(), srv.URL, dest, 5*time.Second)
			assert.Error(t, err)

			after, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestFetchModelCancelled(t *testing.T) {
	srv := modelServer(t, http.StatusOK, []byte(`{}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchModel(ctx, srv.URL, filepath.Join(t.TempDir(), "m.json"), 5*time.Second)
	assert.Error(t, err)
}

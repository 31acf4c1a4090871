package civitai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverbiasu/civitai-dl/pkg/api"
	"github.com/neverbiasu/civitai-dl/pkg/download"
)

func TestPickFile(t *testing.T) {
	files := []api.ModelFile{
		{Name: "pruned.ckpt", Metadata: api.ModelFileMetadata{Format: "PickleTensor"}},
		{Name: "model.safetensors", Primary: true, Metadata: api.ModelFileMetadata{Format: "SafeTensor"}},
		{Name: "extra.pt", Metadata: api.ModelFileMetadata{Format: "Other"}},
	}

	t.Run("format match wins", func(t *testing.T) {
		f, err := pickFile(files, "pickletensor")
		require.NoError(t, err)
		assert.Equal(t, "pruned.ckpt", f.Name)
	})

	t.Run("falls back to primary", func(t *testing.T) {
		f, err := pickFile(files, "GGUF")
		require.NoError(t, err)
		assert.Equal(t, "model.safetensors", f.Name)
	})

	t.Run("no format prefers primary", func(t *testing.T) {
		f, err := pickFile(files, "")
		require.NoError(t, err)
		assert.Equal(t, "model.safetensors", f.Name)
	})

	t.Run("no primary takes first", func(t *testing.T) {
		f, err := pickFile(files[:1], "")
		require.NoError(t, err)
		assert.Equal(t, "pruned.ckpt", f.Name)
	})

	t.Run("empty list errors", func(t *testing.T) {
		_, err := pickFile(nil, "")
		assert.Error(t, err)
	})
}

func TestRenderDir(t *testing.T) {
	d := &Downloader{OutputDir: "/out"}
	model := &api.Model{
		ID:      42,
		Name:    "Sunset Pines",
		Type:    "LORA",
		Creator: api.Creator{Username: "alice"},
	}
	version := &api.ModelVersion{Name: "v2.0", BaseModel: "SDXL 1.0"}

	assert.Equal(t, filepath.Join("/out", "LORA", "alice", "Sunset Pines"),
		d.renderDir(model, version))

	d.Template = "{baseModel}/{creator}/{name}/{version}"
	assert.Equal(t, filepath.Join("/out", "SDXL 1.0", "alice", "Sunset Pines", "v2.0"),
		d.renderDir(model, version))
}

// newMetadataClient wires an api.Client against canned model metadata.
func newMetadataClient(t *testing.T, artifactURL string) *api.Client {
	t.Helper()
	transport := httpmock.NewMockTransport()

	transport.RegisterResponder(http.MethodGet, "https://meta.test/api/v1/models/42",
		httpmock.NewStringResponder(http.StatusOK, `{
			"id": 42, "name": "Sunset Pines", "type": "LORA",
			"creator": {"username": "alice"},
			"modelVersions": [{"id": 101, "name": "v2.0"}]
		}`))

	transport.RegisterResponder(http.MethodGet, "https://meta.test/api/v1/model-versions/101",
		httpmock.NewStringResponder(http.StatusOK, fmt.Sprintf(`{
			"id": 101, "modelId": 42, "name": "v2.0", "baseModel": "SDXL 1.0",
			"files": [{
				"name": "sunset-pines.safetensors", "primary": true,
				"downloadUrl": %q,
				"metadata": {"format": "SafeTensor"}
			}]
		}`, artifactURL+"/artifact")))

	transport.RegisterResponder(http.MethodGet, "https://meta.test/api/v1/images",
		httpmock.NewStringResponder(http.StatusOK, fmt.Sprintf(`{
			"items": [
				{"id": 1, "url": %q},
				{"id": 2, "url": %q}
			],
			"metadata": {}
		}`, artifactURL+"/img1.png", artifactURL+"/img2.png")))

	return api.NewClient(api.Options{
		BaseURL:            "https://meta.test/api/v1",
		MinRequestInterval: time.Millisecond,
		Transport:          transport,
	})
}

func TestDownloadModelVersionEndToEnd(t *testing.T) {
	artifacts := map[string][]byte{
		"/artifact": []byte("weights-bytes"),
		"/img1.png": []byte("png-one"),
		"/img2.png": []byte("png-two"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := artifacts[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	engine := download.NewEngine(download.Options{
		MaxWorkers:   2,
		PollInterval: 5 * time.Millisecond,
	})
	t.Cleanup(func() { engine.Shutdown(false) })

	d := &Downloader{
		API:       newMetadataClient(t, srv.URL),
		Engine:    engine,
		OutputDir: outDir,
	}

	ids, err := d.DownloadModelVersion(context.Background(), 42, ModelOptions{
		WithImages: true,
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.WaitAll(ctx, ids))

	modelDir := filepath.Join(outDir, "LORA", "alice", "Sunset Pines")
	got, err := os.ReadFile(filepath.Join(modelDir, "sunset-pines.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, artifacts["/artifact"], got)

	for _, name := range []string{"img1.png", "img2.png"} {
		img, err := os.ReadFile(filepath.Join(modelDir, "images", name))
		require.NoError(t, err)
		assert.Equal(t, artifacts["/"+name], img)
	}
}

func TestDownloadModelVersionExplicitVersionAndFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ckpt-bytes"))
	}))
	t.Cleanup(srv.Close)

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://meta.test/api/v1/models/7",
		httpmock.NewStringResponder(http.StatusOK, `{
			"id": 7, "name": "Old Growth", "type": "Checkpoint",
			"creator": {"username": "bob"},
			"modelVersions": [{"id": 300, "name": "v3"}, {"id": 200, "name": "v2"}]
		}`))
	transport.RegisterResponder(http.MethodGet, "https://meta.test/api/v1/model-versions/200",
		httpmock.NewStringResponder(http.StatusOK, fmt.Sprintf(`{
			"id": 200, "modelId": 7, "name": "v2",
			"files": [
				{"name": "a.safetensors", "primary": true, "downloadUrl": %q, "metadata": {"format": "SafeTensor"}},
				{"name": "b.ckpt", "downloadUrl": %q, "metadata": {"format": "PickleTensor"}}
			]
		}`, srv.URL+"/a", srv.URL+"/b")))

	client := api.NewClient(api.Options{
		BaseURL:            "https://meta.test/api/v1",
		MinRequestInterval: time.Millisecond,
		Transport:          transport,
	})

	outDir := t.TempDir()
	engine := download.NewEngine(download.Options{MaxWorkers: 1, PollInterval: 5 * time.Millisecond})
	t.Cleanup(func() { engine.Shutdown(false) })

	d := &Downloader{API: client, Engine: engine, OutputDir: outDir}
	ids, err := d.DownloadModelVersion(context.Background(), 7, ModelOptions{
		VersionID: 200,
		Format:    "PickleTensor",
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.WaitAll(ctx, ids))

	assert.FileExists(t, filepath.Join(outDir, "Checkpoint", "bob", "Old Growth", "b.ckpt"))
	assert.NoFileExists(t, filepath.Join(outDir, "Checkpoint", "bob", "Old Growth", "a.safetensors"))
}

func TestDownloadModelVersionPropagatesNotFound(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://meta.test/api/v1/models/9999",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	client := api.NewClient(api.Options{
		BaseURL:            "https://meta.test/api/v1",
		MinRequestInterval: time.Millisecond,
		Transport:          transport,
	})
	engine := download.NewEngine(download.Options{PollInterval: time.Hour})
	t.Cleanup(func() { engine.Shutdown(false) })

	d := &Downloader{API: client, Engine: engine, OutputDir: t.TempDir()}
	_, err := d.DownloadModelVersion(context.Background(), 9999, ModelOptions{})
	var nfErr *api.NotFoundError
	assert.ErrorAs(t, err, &nfErr)
}

func TestFetchImagesHonorsLimit(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://meta.test/api/v1/images",
		httpmock.NewStringResponder(http.StatusOK, `{
			"items": [
				{"id": 1, "url": "https://cdn.test/1.png"},
				{"id": 2, "url": "https://cdn.test/2.png"},
				{"id": 3, "url": "https://cdn.test/3.png"}
			],
			"metadata": {}
		}`))

	client := api.NewClient(api.Options{
		BaseURL:            "https://meta.test/api/v1",
		MinRequestInterval: time.Millisecond,
		Transport:          transport,
	})
	d := &Downloader{API: client}

	images, err := d.fetchImages(context.Background(), 42, 0, 2)
	require.NoError(t, err)
	assert.Len(t, images, 2)
}

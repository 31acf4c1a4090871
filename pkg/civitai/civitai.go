// Package civitai ties the API client and the download engine together into
// the user-facing operations: download a model version, download its gallery.
package civitai

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neverbiasu/civitai-dl/pkg/api"
	"github.com/neverbiasu/civitai-dl/pkg/download"
	"github.com/neverbiasu/civitai-dl/pkg/logging"
	"github.com/neverbiasu/civitai-dl/pkg/pathtemplate"
)

// DefaultTemplate decides where a model's files land under the output dir.
const DefaultTemplate = "{type}/{creator}/{name}"

// imagePriority keeps gallery images behind model files in the queue.
const imagePriority = 10

type Downloader struct {
	API       *api.Client
	Engine    *download.Engine
	OutputDir string
	Template  string

	// Force re-downloads artifacts that already exist on disk.
	Force bool
}

// ModelOptions tune a model download.
type ModelOptions struct {
	VersionID  int    // 0 means the latest published version
	Format     string // preferred file format, e.g. "SafeTensor"
	WithImages bool
	ImageLimit int
}

// DownloadModelVersion fetches model metadata, picks a file, and submits the
// transfer (plus gallery images when requested). Returns the submitted task
// ids without waiting for them.
func (d *Downloader) DownloadModelVersion(ctx context.Context, modelID int, opts ModelOptions) ([]string, error) {
	model, err := d.API.Model(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("fetching model %d: %w", modelID, err)
	}

	versionID := opts.VersionID
	if versionID == 0 {
		if len(model.ModelVersions) == 0 {
			return nil, fmt.Errorf("model %d has no published versions", modelID)
		}
		versionID = model.ModelVersions[0].ID
	}

	// Version details and the gallery are independent fetches.
	var (
		version *api.ModelVersion
		images  []api.Image
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var verr error
		version, verr = d.API.ModelVersion(gctx, versionID)
		return verr
	})
	if opts.WithImages {
		g.Go(func() error {
			var ierr error
			images, ierr = d.fetchImages(gctx, modelID, versionID, opts.ImageLimit)
			return ierr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	file, err := pickFile(version.Files, opts.Format)
	if err != nil {
		return nil, fmt.Errorf("model %d version %d: %w", modelID, versionID, err)
	}

	dir := d.renderDir(model, version)
	fileURL := file.DownloadURL
	if fileURL == "" {
		fileURL = d.API.DownloadURL(version.ID)
	}

	ids := make([]string, 0, 1+len(images))
	id, err := d.Engine.Submit(download.SubmitOptions{
		URL:        fileURL,
		OutputPath: dir,
		Filename:   file.Name,
		Force:      d.Force,
	})
	if err != nil {
		return nil, err
	}
	ids = append(ids, id)

	logger := logging.GetLogger()
	logger.Info().
		Int("model_id", modelID).
		Int("version_id", version.ID).
		Str("file", file.Name).
		Str("dir", dir).
		Int("images", len(images)).
		Msg("Submitted model download")

	imageIDs, err := d.submitImages(images, filepath.Join(dir, "images"))
	if err != nil {
		return ids, err
	}
	return append(ids, imageIDs...), nil
}

// DownloadImages submits every gallery image for a model (optionally scoped
// to one version) and returns the task ids.
func (d *Downloader) DownloadImages(ctx context.Context, modelID, versionID, limit int) ([]string, error) {
	images, err := d.fetchImages(ctx, modelID, versionID, limit)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(d.OutputDir, "images", strconv.Itoa(modelID))
	return d.submitImages(images, dir)
}

// WaitAll blocks until every listed task is terminal, then reports failures.
func (d *Downloader) WaitAll(ctx context.Context, ids []string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var failed []string
		done := true
		for _, id := range ids {
			t, ok := d.Engine.Get(id)
			if !ok {
				continue
			}
			if !t.Status.Terminal() {
				done = false
				break
			}
			if t.Status == download.StatusFailed {
				failed = append(failed, fmt.Sprintf("%s (%s): %s", t.Filename, id, t.Err))
			}
		}
		if !done {
			continue
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d downloads failed: %s", len(failed), len(ids), strings.Join(failed, "; "))
		}
		return nil
	}
}

func (d *Downloader) fetchImages(ctx context.Context, modelID, versionID, limit int) ([]api.Image, error) {
	params := url.Values{}
	params.Set("modelId", strconv.Itoa(modelID))
	if versionID != 0 {
		params.Set("modelVersionId", strconv.Itoa(versionID))
	}
	if limit > 0 && limit < 200 {
		params.Set("limit", strconv.Itoa(limit))
	}

	images, err := d.API.ImagesAll(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("fetching images for model %d: %w", modelID, err)
	}
	if limit > 0 && len(images) > limit {
		images = images[:limit]
	}
	return images, nil
}

func (d *Downloader) submitImages(images []api.Image, dir string) ([]string, error) {
	ids := make([]string, 0, len(images))
	for _, img := range images {
		id, err := d.Engine.Submit(download.SubmitOptions{
			URL:        img.URL,
			OutputPath: dir,
			Priority:   imagePriority,
			Force:      d.Force,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *Downloader) renderDir(model *api.Model, version *api.ModelVersion) string {
	template := d.Template
	if template == "" {
		template = DefaultTemplate
	}
	rendered := pathtemplate.Render(template, map[string]string{
		"type":      model.Type,
		"creator":   model.Creator.Username,
		"name":      model.Name,
		"id":        strconv.Itoa(model.ID),
		"version":   version.Name,
		"baseModel": version.BaseModel,
	})
	return filepath.Join(d.OutputDir, filepath.FromSlash(rendered))
}

// pickFile prefers an exact format match, then the primary file, then the
// first listed.
func pickFile(files []api.ModelFile, format string) (*api.ModelFile, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no downloadable files")
	}
	if format != "" {
		for i := range files {
			if strings.EqualFold(files[i].Metadata.Format, format) {
				return &files[i], nil
			}
		}
	}
	for i := range files {
		if files[i].Primary {
			return &files[i], nil
		}
	}
	return &files[0], nil
}

package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Model is a catalog entry as returned by GET /models.
type Model struct {
	ID            int            `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	NSFW          bool           `json:"nsfw"`
	Tags          []string       `json:"tags"`
	Creator       Creator        `json:"creator"`
	Stats         ModelStats     `json:"stats"`
	ModelVersions []ModelVersion `json:"modelVersions"`
}

type Creator struct {
	Username string `json:"username"`
}

type ModelStats struct {
	DownloadCount int     `json:"downloadCount"`
	Rating        float64 `json:"rating"`
}

// ModelVersion is one published revision of a model, with its files.
type ModelVersion struct {
	ID          int         `json:"id"`
	ModelID     int         `json:"modelId"`
	Name        string      `json:"name"`
	BaseModel   string      `json:"baseModel"`
	DownloadURL string      `json:"downloadUrl"`
	Files       []ModelFile `json:"files"`
	Images      []Image     `json:"images"`
}

type ModelFile struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	SizeKB      float64           `json:"sizeKB"`
	Type        string            `json:"type"`
	Primary     bool              `json:"primary"`
	DownloadURL string            `json:"downloadUrl"`
	Metadata    ModelFileMetadata `json:"metadata"`
}

type ModelFileMetadata struct {
	Format string `json:"format"`
	Size   string `json:"size"`
	FP     string `json:"fp"`
}

// Image is a gallery entry as returned by GET /images.
type Image struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	NSFW   bool   `json:"nsfw"`
	Hash   string `json:"hash"`
}

func (c *Client) Models(ctx context.Context, params url.Values) ([]Model, error) {
	var page page[Model]
	if err := c.Get(ctx, "/models", params, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) Model(ctx context.Context, modelID int) (*Model, error) {
	var model Model
	if err := c.Get(ctx, fmt.Sprintf("/models/%d", modelID), nil, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

func (c *Client) ModelVersion(ctx context.Context, versionID int) (*ModelVersion, error) {
	var version ModelVersion
	if err := c.Get(ctx, fmt.Sprintf("/model-versions/%d", versionID), nil, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

func (c *Client) Images(ctx context.Context, params url.Values) ([]Image, error) {
	var page page[Image]
	if err := c.Get(ctx, "/images", params, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ImagesAll aggregates every gallery page matching params, following the
// server's opaque cursor until a page arrives without one.
func (c *Client) ImagesAll(ctx context.Context, params url.Values) ([]Image, error) {
	return fetchAll[Image](ctx, c, "/images", params)
}

// ModelsAll aggregates every catalog page matching params.
func (c *Client) ModelsAll(ctx context.Context, params url.Values) ([]Model, error) {
	return fetchAll[Model](ctx, c, "/models", params)
}

// DownloadURL returns the artifact endpoint for a model version. The API key
// rides along as a token query parameter because download redirects do not
// carry the Authorization header through. The endpoint lives beside the
// versioned API root: <base>/api/v1 metadata, <base>/api/download artifacts.
func (c *Client) DownloadURL(versionID int) string {
	base := strings.TrimSuffix(c.baseURL, "/v1")
	u := fmt.Sprintf("%s/download/models/%d", base, versionID)
	if c.apiKey != "" {
		u += "?token=" + url.QueryEscape(c.apiKey)
	}
	return u
}

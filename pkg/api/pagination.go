package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/neverbiasu/civitai-dl/pkg/logging"
)

// maxPages bounds a single aggregation as a defense against a server that
// repeats cursors. The Civitai API gives no guarantee beyond "a page either
// carries a next cursor or it doesn't".
const maxPages = 1000

type page[T any] struct {
	Items    []T          `json:"items"`
	Metadata pageMetadata `json:"metadata"`
}

type pageMetadata struct {
	NextCursor string `json:"nextCursor"`
	TotalItems int    `json:"totalItems"`
}

// fetchAll walks a cursor-paginated endpoint and aggregates every item. Each
// item the server returns appears exactly once in the result, assuming the
// server never repeats a cursor. Iteration stops at the first page without a
// next cursor.
func fetchAll[T any](ctx context.Context, c *Client, path string, base url.Values) ([]T, error) {
	logger := logging.GetLogger()

	params := url.Values{}
	for k, vs := range base {
		params[k] = append([]string(nil), vs...)
	}

	var items []T
	for pages := 0; ; pages++ {
		if pages >= maxPages {
			return items, fmt.Errorf("pagination exceeded %d pages for %s, aborting", maxPages, path)
		}

		var p page[T]
		if err := c.Get(ctx, path, params, &p); err != nil {
			return items, err
		}
		items = append(items, p.Items...)

		if p.Metadata.NextCursor == "" {
			logger.Debug().Str("path", path).Int("pages", pages+1).Int("items", len(items)).Msg("Pagination complete")
			return items, nil
		}
		params.Set("cursor", p.Metadata.NextCursor)
	}
}

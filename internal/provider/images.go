package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"time"

	// Registered for image.DecodeConfig header-only dimension probing.
	_ "image/jpeg"
	_ "image/png"
)

// ImageFetcher downloads at most maxBytes of an image and probes its pixel
// dimensions from the header without decoding the full frame.
type ImageFetcher struct {
	HTTP *http.Client
}

func NewImageFetcher() *ImageFetcher {
	return &ImageFetcher{HTTP: &http.Client{Timeout: 25 * time.Second}}
}

const DefaultImageMaxBytes = 2_000_000

func (f *ImageFetcher) Fetch(ctx context.Context, url string, maxBytes int) ImageMeta {
	if maxBytes <= 0 {
		maxBytes = DefaultImageMaxBytes
	}
	meta := ImageMeta{URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		meta.Error = "build request: " + err.Error()
		return meta
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "*/*")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		meta.Error = "image fetch failed: " + err.Error()
		return meta
	}
	defer resp.Body.Close()

	meta.HTTPStatus = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		meta.Error = fmt.Sprintf("HTTP %d downloading image", resp.StatusCode)
		return meta
	}
	meta.ContentType = resp.Header.Get("Content-Type")

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)))
	if err != nil {
		meta.Error = "read image body: " + err.Error()
		return meta
	}
	meta.OK = true
	meta.BytesDownloaded = len(data)
	if cl, err := strconv.Atoi(resp.Header.Get("Content-Length")); err == nil {
		meta.Truncated = cl > len(data)
	} else {
		meta.Truncated = len(data) == maxBytes
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	}
	return meta
}

package yandex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ondyne/disksync/internal/cloudpath"
)

// hrefResponse is the JSON descriptor returned by the two-step
// download/upload endpoints: a short-lived, pre-authenticated URL.
type hrefResponse struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

// Download fetches a cloud file to a local path. It writes to a ".part"
// sibling file and renames it into place on success, so a download that
// fails partway never leaves a corrupt file at dst.
func (c *Client) Download(ctx context.Context, src cloudpath.Cloud, dst string) (int64, error) {
	c.logger.Info("downloading file", slog.String("path", string(src)))

	q := url.Values{}
	q.Set("path", string(src))

	resp, err := c.Do(ctx, http.MethodGet, "/resources/download?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("yandex: getting download href: %w", err)
	}

	var desc hrefResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&desc)
	resp.Body.Close()

	if decodeErr != nil {
		return 0, &APIError{StatusCode: resp.StatusCode, Message: "decoding download href: " + decodeErr.Error(), Err: ErrProtocol}
	}

	if desc.Href == "" {
		return 0, &APIError{StatusCode: resp.StatusCode, Message: "empty download href", Err: ErrProtocol}
	}

	partPath := dst + ".part"
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("yandex: creating destination directory: %w", err)
	}

	f, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("yandex: creating temp file: %w", err)
	}

	n, copyErr := c.downloadFromHref(ctx, desc.Href, f)
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(partPath)

		return n, copyErr
	}

	if closeErr != nil {
		os.Remove(partPath)

		return n, fmt.Errorf("yandex: closing temp file: %w", closeErr)
	}

	if err := os.Rename(partPath, dst); err != nil {
		os.Remove(partPath)

		return n, fmt.Errorf("yandex: renaming temp file into place: %w", err)
	}

	c.logger.Debug("download complete", slog.String("path", string(src)), slog.Int64("bytes_written", n))

	return n, nil
}

// downloadFromHref streams content from a pre-authenticated href directly
// to w. The href is never logged: it embeds a short-lived auth token.
func (c *Client) downloadFromHref(ctx context.Context, href string, w io.Writer) (int64, error) {
	resp, err := c.doPreAuthRetry(ctx, "download", func(reqCtx context.Context) (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodGet, href, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("yandex: creating download request: %w", reqErr)
		}

		req.Header.Set("User-Agent", userAgent)

		return req, nil
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		c.logger.Error("streaming download content failed",
			slog.String("error", copyErr.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("yandex: streaming download content: %w", copyErr)
	}

	return n, nil
}

// Upload sends a local file's content to a cloud path, overwriting any
// existing file there. size must be the exact byte length of the file at
// src; it is sent as the Content-Length. Each retry attempt reopens src,
// so the body is resent from the start.
func (c *Client) Upload(ctx context.Context, src string, dst cloudpath.Cloud, size int64) error {
	c.logger.Info("uploading file", slog.String("path", string(dst)), slog.Int64("size", size))

	q := url.Values{}
	q.Set("path", string(dst))
	q.Set("overwrite", "true")

	resp, err := c.Do(ctx, http.MethodGet, "/resources/upload?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("yandex: getting upload href: %w", err)
	}

	var desc hrefResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&desc)
	resp.Body.Close()

	if decodeErr != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "decoding upload href: " + decodeErr.Error(), Err: ErrProtocol}
	}

	if desc.Href == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: "empty upload href", Err: ErrProtocol}
	}

	uploadResp, err := c.doPreAuthRetry(ctx, "upload", func(reqCtx context.Context) (*http.Request, error) {
		f, openErr := os.Open(src)
		if openErr != nil {
			return nil, fmt.Errorf("yandex: opening file for upload: %w", openErr)
		}

		req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodPut, desc.Href, f)
		if reqErr != nil {
			f.Close()

			return nil, fmt.Errorf("yandex: creating upload request: %w", reqErr)
		}

		req.ContentLength = size
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "application/octet-stream")

		return req, nil
	})
	if err != nil {
		return err
	}
	uploadResp.Body.Close()

	c.logger.Debug("upload complete", slog.String("path", string(dst)), slog.Int64("size", size))

	return nil
}

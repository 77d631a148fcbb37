package yandex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ondyne/disksync/internal/cloudpath"
)

const listLimit = 1000

// resourceResponse mirrors the JSON shape of GET /resources.
type resourceResponse struct {
	Name       string             `json:"name"`
	Type       string             `json:"type"` // "dir" or "file"
	Size       int64              `json:"size"`
	Modified   string             `json:"modified"`
	Embedded   *embeddedResources `json:"_embedded"`
}

type embeddedResources struct {
	Items  []resourceResponse `json:"items"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
	Total  int                `json:"total"`
}

// ListChildren lists the immediate children of a cloud folder. It issues a
// single request with limit=1000 and does not request further pages, so a
// folder with more children than that comes back truncated to the first
// 1000 entries the API returns.
func (c *Client) ListChildren(ctx context.Context, dir cloudpath.Cloud) ([]Node, error) {
	q := url.Values{}
	q.Set("path", string(dir))
	q.Set("limit", fmt.Sprintf("%d", listLimit))

	resp, err := c.Do(ctx, http.MethodGet, "/resources?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body resourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "decoding listing: " + err.Error(), Err: ErrProtocol}
	}

	if body.Embedded == nil {
		return nil, nil
	}

	nodes := make([]Node, 0, len(body.Embedded.Items))
	for _, item := range body.Embedded.Items {
		kind := KindFile
		if item.Type == "dir" {
			kind = KindDir
		}

		nodes = append(nodes, Node{
			Path:     cloudpath.JoinCloud(dir, item.Name),
			Name:     item.Name,
			Kind:     kind,
			Size:     item.Size,
			Modified: item.Modified,
		})
	}

	return nodes, nil
}

// CreateFolder creates a cloud folder at path. Returns created=true when
// the folder was newly made (200/201); a 409 Conflict means the folder
// already existed and is treated as success with created=false.
func (c *Client) CreateFolder(ctx context.Context, dir cloudpath.Cloud) (bool, error) {
	q := url.Values{}
	q.Set("path", string(dir))

	resp, err := c.Do(ctx, http.MethodPut, "/resources?"+q.Encode(), nil)
	if err != nil {
		apiErr, ok := err.(*APIError)
		if ok && apiErr.StatusCode == http.StatusConflict {
			return false, nil
		}

		return false, err
	}
	defer resp.Body.Close()

	return true, nil
}

// Delete removes a cloud resource (file or folder, recursively for
// folders). Success is any 2xx, including 202 Accepted for async delete.
func (c *Client) Delete(ctx context.Context, path cloudpath.Cloud) error {
	q := url.Values{}
	q.Set("path", string(path))
	q.Set("permanently", "true")

	resp, err := c.Do(ctx, http.MethodDelete, "/resources?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// quotaResponse mirrors the JSON shape of GET /.
type quotaResponse struct {
	TotalSpace int64 `json:"total_space"`
	UsedSpace  int64 `json:"used_space"`
}

// Quota fetches the account's used/total space.
func (c *Client) Quota(ctx context.Context) (Quota, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return Quota{}, err
	}
	defer resp.Body.Close()

	var body quotaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quota{}, &APIError{StatusCode: resp.StatusCode, Message: "decoding quota: " + err.Error(), Err: ErrProtocol}
	}

	return Quota{Used: body.UsedSpace, Total: body.TotalSpace}, nil
}

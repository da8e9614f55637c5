package syncclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"listsync/internal/types"
)

// restClient wraps the mutation API surface. Failures come back classified:
// 400 as ErrValidation (with the server's message), 404 as ErrNotFound,
// anything network-ish as ErrTransport.
type restClient struct {
	baseURL *url.URL
	httpc   *http.Client
}

func newRESTClient(baseURL *url.URL) *restClient {
	return &restClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *restClient) getList(ctx context.Context, listID string) (types.List, error) {
	var list types.List
	err := c.do(ctx, http.MethodGet, c.baseURL.JoinPath("lists", listID), nil, &list)
	return list, err
}

func (c *restClient) addItem(ctx context.Context, listID, label, addedBy string) (types.Item, error) {
	var item types.Item
	body := map[string]string{"label": label, "addedBy": addedBy}
	err := c.do(ctx, http.MethodPost, c.baseURL.JoinPath("lists", listID, "items"), body, &item)
	return item, err
}

func (c *restClient) updateItem(ctx context.Context, listID, itemID string, patch types.ItemPatch) (types.Item, error) {
	var item types.Item
	err := c.do(ctx, http.MethodPatch, c.baseURL.JoinPath("lists", listID, "items", itemID), patch, &item)
	return item, err
}

func (c *restClient) deleteItem(ctx context.Context, listID, itemID string) (types.Item, error) {
	var item types.Item
	err := c.do(ctx, http.MethodDelete, c.baseURL.JoinPath("lists", listID, "items", itemID), nil, &item)
	return item, err
}

func (c *restClient) do(ctx context.Context, method string, u *url.URL, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return types.Err(types.ErrTransport, err, "")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Err(types.ErrTransport, err, "")
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return types.Err(types.ErrTransport, err, "invalid response body")
			}
		}
		return nil
	}
	msg := serverErrorMessage(raw)
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return types.Err(types.ErrValidation, nil, "%s", msg)
	case http.StatusNotFound:
		return types.Err(types.ErrNotFound, nil, "%s", msg)
	default:
		return types.Err(types.ErrTransport, nil, "unexpected status code: %d", resp.StatusCode)
	}
}

func serverErrorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return "request failed"
}

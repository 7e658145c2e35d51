package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://sheets.googleapis.com"

// Client is the Google Sheets REST v4 implementation of Store,
// authenticated with a service-account token source.
type Client struct {
	hc      *http.Client
	tokens  *tokenSource
	baseURL string
}

func NewClient(creds Credentials, timeout time.Duration) *Client {
	hc := &http.Client{Timeout: timeout}
	return &Client{
		hc:      hc,
		tokens:  newTokenSource(creds, hc),
		baseURL: defaultBaseURL,
	}
}

func (c *Client) Metadata(ctx context.Context, spreadsheetID string) (string, error) {
	var out struct {
		Properties struct {
			Title string `json:"title"`
		} `json:"properties"`
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s?fields=properties.title", url.PathEscape(spreadsheetID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Properties.Title, nil
}

func (c *Client) ReadRange(ctx context.Context, spreadsheetID, rangeSpec string) ([][]string, error) {
	var out struct {
		Values [][]any `json:"values"`
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s", url.PathEscape(spreadsheetID), url.PathEscape(rangeSpec))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(out.Values))
	for _, v := range out.Values {
		row := make([]string, len(v))
		for i, cell := range v {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) WriteRange(ctx context.Context, spreadsheetID, rangeSpec string, rows [][]string) error {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s?valueInputOption=RAW",
		url.PathEscape(spreadsheetID), url.PathEscape(rangeSpec))
	return c.do(ctx, http.MethodPut, path, valueBody(rangeSpec, rows), nil)
}

func (c *Client) AppendRows(ctx context.Context, spreadsheetID, rangeSpec string, rows [][]string) error {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED&insertDataOption=INSERT_ROWS",
		url.PathEscape(spreadsheetID), url.PathEscape(rangeSpec))
	return c.do(ctx, http.MethodPost, path, valueBody(rangeSpec, rows), nil)
}

func valueBody(rangeSpec string, rows [][]string) map[string]any {
	return map[string]any{"range": rangeSpec, "majorDimension": "ROWS", "values": rows}
}

// do performs one authenticated request. Non-2xx responses become
// *APIError with the store's own message; nothing is retried.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("store auth: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("store request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read store response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode store response: %w", err)
		}
	}
	return nil
}

func apiError(status int, raw []byte) *APIError {
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		code := body.Error.Code
		if code == 0 {
			code = status
		}
		return &APIError{Code: code, Message: body.Error.Message}
	}
	return &APIError{Code: status, Message: string(bytes.TrimSpace(raw))}
}

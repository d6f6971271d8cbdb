package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient is a thin REST client for the server's chain endpoints.
type apiClient struct {
	base string
	http *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// apiEnvelope mirrors the server's response wrapper.
type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// getData performs a GET and decodes the data envelope into out.
func (c *apiClient) getData(path string, params url.Values, out any) error {
	body, err := c.get(path, params)
	if err != nil {
		return err
	}
	defer body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("server error %s: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// get performs a GET and returns the raw body for streaming responses.
func (c *apiClient) get(path string, params url.Values) (io.ReadCloser, error) {
	u := c.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	resp, err := c.http.Get(u)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var envelope apiEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != nil {
			return nil, fmt.Errorf("server error %s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}

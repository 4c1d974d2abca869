package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

type apiClient struct {
	http *resty.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (c *apiClient) get(path string, query map[string]string) ([]byte, error) {
	resp, err := c.http.R().SetQueryParams(query).Get(path)
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

func (c *apiClient) post(path string, body any) ([]byte, error) {
	req := c.http.R()
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

func (c *apiClient) postRaw(path string, query map[string]string, raw []byte, contentType string) ([]byte, error) {
	resp, err := c.http.R().
		SetQueryParams(query).
		SetHeader("Content-Type", contentType).
		SetBody(raw).
		Post(path)
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

func (c *apiClient) delete(path string) ([]byte, error) {
	resp, err := c.http.R().Delete(path)
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

func checkStatus(resp *resty.Response) ([]byte, error) {
	if resp.IsError() {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return resp.Body(), nil
}

// printJSON indents JSON bodies and copies anything else unchanged.
func printJSON(out io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = out.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}

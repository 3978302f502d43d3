package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

type Client struct {
	url           string
	authorization string
	client        *http.Client
}

func NewClient(url, authorization string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:           url,
		authorization: authorization,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts one SMS request. A non-2xx answer is returned as *Error;
// connection failures, timeouts and unreadable 2xx bodies come back as
// plain wrapped errors.
func (c *Client) Send(ctx context.Context, sr Request) (Response, error) {
	reqBody, err := json.Marshal(sr)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authorization)

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, &Error{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    errorMessage(body),
			Body:       string(body),
		}
	}

	id, err := ExtractMessageID(body)
	if err != nil {
		return Response{}, fmt.Errorf("decode response (status %d): %w body=%q", resp.StatusCode, err, string(body))
	}

	return Response{
		StatusCode: resp.StatusCode,
		MessageID:  id,
		Raw:        json.RawMessage(body),
	}, nil
}

type sendResponse struct {
	Data      json.RawMessage `json:"Data"`
	MessageID any             `json:"MessageID"`
}

type sendResponseData struct {
	MessageID any `json:"MessageID"`
}

// ExtractMessageID reads Data.MessageID, then MessageID, and falls back to
// UnknownMessageID. The body must be a single JSON object.
func ExtractMessageID(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", errors.New("empty body")
	}
	if !json.Valid(body) {
		return "", errors.New("invalid json body")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var sr sendResponse
	if err := dec.Decode(&sr); err != nil {
		return "", err
	}

	if len(sr.Data) > 0 && sr.Data[0] == '{' {
		ddec := json.NewDecoder(bytes.NewReader(sr.Data))
		ddec.UseNumber()

		var d sendResponseData
		if err := ddec.Decode(&d); err == nil {
			if id := idString(d.MessageID); id != "" {
				return id, nil
			}
		}
	}

	if id := idString(sr.MessageID); id != "" {
		return id, nil
	}
	return UnknownMessageID, nil
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func errorMessage(body []byte) string {
	var er struct {
		Message      string `json:"message"`
		StatusDesc   string `json:"StatusDescription"`
		MessageUpper string `json:"Message"`
	}
	if err := json.Unmarshal(body, &er); err != nil {
		return ""
	}
	switch {
	case er.Message != "":
		return er.Message
	case er.MessageUpper != "":
		return er.MessageUpper
	default:
		return er.StatusDesc
	}
}

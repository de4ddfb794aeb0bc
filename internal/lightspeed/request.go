package lightspeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// RequestOption configures a single API request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	method  string
	header  http.Header
	query   url.Values
	body    any
	hasBody bool
}

// WithMethod sets the HTTP method. Defaults to GET.
func WithMethod(method string) RequestOption {
	return func(o *requestOptions) {
		o.method = method
	}
}

// WithHeader adds a request header. Caller headers replace the defaults,
// except Authorization, which is always the stored bearer token.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.header.Add(key, value)
	}
}

// WithQuery adds query parameters to the request URL.
func WithQuery(query url.Values) RequestOption {
	return func(o *requestOptions) {
		for k, vs := range query {
			o.query[k] = append(o.query[k], vs...)
		}
	}
}

// WithJSONBody sends v encoded as JSON. A json.RawMessage or []byte is sent as-is.
func WithJSONBody(v any) RequestOption {
	return func(o *requestOptions) {
		o.body = v
		o.hasBody = true
	}
}

// response is a fully read HTTP response.
type response struct {
	statusCode int
	body       []byte
}

// Request calls the store's API at path and returns the JSON response body.
//
// A 401 response triggers one token refresh and one replay of the identical
// request. If the replay is also rejected, stored credentials are cleared and
// ErrAuthenticationExpired is returned. Other failures are StatusErrors of kind
// ErrRequestFailed and leave credentials untouched.
func (c *Client) Request(ctx context.Context, path string, opts ...RequestOption) (json.RawMessage, error) {
	o := requestOptions{
		method: http.MethodGet,
		header: make(http.Header),
		query:  make(url.Values),
	}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := encodeBody(o)
	if err != nil {
		return nil, err
	}

	record, err := c.validRecord(ctx)
	if err != nil {
		return nil, err
	}

	endpoint, err := c.apiURL(record.Domain, path, o.query)
	if err != nil {
		return nil, err
	}

	requestID := o.header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := c.logger.With("request_id", requestID, "method", o.method, "path", path)

	resp, err := c.send(ctx, o, endpoint, body, requestID, record.AccessToken)
	if err != nil {
		return nil, err
	}

	if resp.statusCode == http.StatusUnauthorized {
		logger.InfoContext(ctx, "access token rejected, refreshing and retrying once")

		record, err = c.refreshAfterUnauthorized(ctx, record.AccessToken)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// A failed refresh already cleared the record; a missing refresh token has not.
			if clearErr := c.Disconnect(context.WithoutCancel(ctx)); clearErr != nil {
				return nil, errors.Join(fmt.Errorf("%w: %w", ErrAuthenticationExpired, err), clearErr)
			}
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationExpired, err)
		}

		resp, err = c.send(ctx, o, endpoint, body, requestID, record.AccessToken)
		if err != nil {
			return nil, err
		}

		if resp.statusCode == http.StatusUnauthorized {
			logger.WarnContext(ctx, "refreshed token rejected, clearing credentials")
			if err := c.Disconnect(context.WithoutCancel(ctx)); err != nil {
				return nil, errors.Join(ErrAuthenticationExpired, err)
			}
			return nil, ErrAuthenticationExpired
		}
	}

	if resp.statusCode < 200 || resp.statusCode > 299 {
		logger.WarnContext(ctx, "request failed", "status", resp.statusCode)
		return nil, &StatusError{Kind: ErrRequestFailed, StatusCode: resp.statusCode, Body: string(resp.body)}
	}

	logger.DebugContext(ctx, "request completed", "status", resp.statusCode)

	if len(bytes.TrimSpace(resp.body)) == 0 {
		return json.RawMessage("null"), nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(resp.body, &raw); err != nil {
		return nil, &StatusError{
			Kind:       ErrRequestFailed,
			StatusCode: resp.statusCode,
			Body:       "decoding response: " + err.Error(),
			Err:        err,
		}
	}
	return raw, nil
}

// Do calls Request and decodes the response into T.
func Do[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	var out T
	raw, err := c.Request(ctx, path, opts...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &StatusError{Kind: ErrRequestFailed, Body: "decoding response: " + err.Error(), Err: err}
	}
	return out, nil
}

// send performs one attempt. The body is replayed from the same bytes on retry.
func (c *Client) send(ctx context.Context, o requestOptions, endpoint string, body []byte, requestID, token string) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, o.method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for key, values := range o.header {
		req.Header[key] = values
	}
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &StatusError{Kind: ErrRequestFailed, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StatusError{Kind: ErrRequestFailed, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	return &response{statusCode: resp.StatusCode, body: data}, nil
}

// encodeBody marshals the request body once so retries send identical bytes.
func encodeBody(o requestOptions) ([]byte, error) {
	if !o.hasBody {
		return nil, nil
	}
	switch v := o.body.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	data, err := json.Marshal(o.body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return data, nil
}

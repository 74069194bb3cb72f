package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkeye/discodo/domain"
)

// restRate keeps a burst of commands from hammering a node's HTTP surface.
const (
	restRate  = rate.Limit(10)
	restBurst = 10
)

// restClient talks to the node's HTTP surface on behalf of one voice client.
// Every request carries the credential plus owner, guild and session ids.
type restClient struct {
	base    string
	headers map[string]string
	http    *http.Client
	limiter *rate.Limiter
}

func newRESTClient(vc *VoiceClient) *restClient {
	return &restClient{
		base: vc.node.URL(),
		headers: map[string]string{
			"Authorization":  vc.node.password,
			"User-ID":        vc.client.platform.UserID(),
			"Guild-ID":       vc.guildID,
			"VoiceClient-ID": vc.id,
		},
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(restRate, restBurst),
	}
}

// do runs one request and decodes the response through the domain registry.
// Non-2xx responses become StatusErrors carrying the decoded body; a body
// with a traceback is a remote failure no matter the status.
func (r *restClient) do(ctx context.Context, method, endpoint string, query url.Values, body any) (any, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target := r.base + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, endpoint, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, endpoint, err)
	}

	var data any
	if len(raw) > 0 {
		data, err = domain.DecodeValue(raw)
		if err != nil {
			// Nodes answer plain text on some errors; keep it readable.
			data = string(raw)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: data}
	}
	if err := remoteError(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (r *restClient) getSource(ctx context.Context, query string) (any, error) {
	return r.do(ctx, http.MethodGet, "/getSource", url.Values{"query": {query}}, nil)
}

func (r *restClient) searchSources(ctx context.Context, query string) (any, error) {
	return r.do(ctx, http.MethodGet, "/searchSources", url.Values{"query": {query}}, nil)
}

func (r *restClient) loadSource(ctx context.Context, query string) (any, error) {
	return r.do(ctx, http.MethodPost, "/loadSource", nil, map[string]any{"query": query})
}

func (r *restClient) putSource(ctx context.Context, source any) (any, error) {
	return r.do(ctx, http.MethodPost, "/putSource", nil, map[string]any{"source": source})
}

func (r *restClient) getOptions(ctx context.Context) (any, error) {
	return r.do(ctx, http.MethodGet, "/options", nil, nil)
}

func (r *restClient) setOptions(ctx context.Context, opts domain.Options) (any, error) {
	return r.do(ctx, http.MethodPost, "/options", nil, opts)
}

func (r *restClient) getSeek(ctx context.Context) (any, error) {
	return r.do(ctx, http.MethodGet, "/seek", nil, nil)
}

func (r *restClient) seek(ctx context.Context, offset float64) (any, error) {
	return r.do(ctx, http.MethodPost, "/seek", nil, map[string]any{"offset": offset})
}

func (r *restClient) skip(ctx context.Context, offset int) (any, error) {
	return r.do(ctx, http.MethodPost, "/skip", nil, map[string]any{"offset": offset})
}

func (r *restClient) pause(ctx context.Context) (any, error) {
	return r.do(ctx, http.MethodPost, "/pause", nil, nil)
}

func (r *restClient) resume(ctx context.Context) (any, error) {
	return r.do(ctx, http.MethodPost, "/resume", nil, nil)
}

func (r *restClient) shuffle(ctx context.Context) (any, error) {
	return r.do(ctx, http.MethodPost, "/shuffle", nil, nil)
}

func (r *restClient) getQueue(ctx context.Context) (any, error) {
	return r.do(ctx, http.MethodGet, "/queue", nil, nil)
}

func (r *restClient) getCurrent(ctx context.Context) (any, error) {
	return r.do(ctx, http.MethodGet, "/current", nil, nil)
}

func (r *restClient) setCurrent(ctx context.Context, data any) (any, error) {
	return r.do(ctx, http.MethodPost, "/current", nil, data)
}

func (r *restClient) getContext(ctx context.Context) (any, error) {
	return r.do(ctx, http.MethodGet, "/context", nil, nil)
}

func (r *restClient) setContext(ctx context.Context, value map[string]any) (any, error) {
	return r.do(ctx, http.MethodPost, "/context", nil, map[string]any{"context": value})
}

func (r *restClient) getQueueSource(ctx context.Context, tag string) (any, error) {
	return r.do(ctx, http.MethodGet, "/queue/"+url.PathEscape(tag), nil, nil)
}

func (r *restClient) setQueueSource(ctx context.Context, tag string, data any) (any, error) {
	return r.do(ctx, http.MethodPost, "/queue/"+url.PathEscape(tag), nil, data)
}

func (r *restClient) removeQueueSource(ctx context.Context, tag string) (any, error) {
	return r.do(ctx, http.MethodDelete, "/queue/"+url.PathEscape(tag), nil, nil)
}

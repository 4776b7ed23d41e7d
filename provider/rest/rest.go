// Package rest is a DataProvider speaking the httpapi wire format. Each
// repository maps onto the pluralized collection path under the base URL.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/httpapi"
	"github.com/aquamarinepk/repoctx/query"
	"github.com/google/uuid"
)

const defaultTimeout = 15 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: rest base url is required", repoctx.ErrInvalidConfig)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: rest base url: %w", repoctx.ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: rest base url needs http or https scheme", repoctx.ErrInvalidConfig)
	}
	return nil
}

type Option func(*Provider)

// WithHTTPClient replaces the default client. The configured timeout is not
// applied to it.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.client = client
		}
	}
}

func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.headers.Set(key, value)
	}
}

// WithPath overrides how repository names map onto URL paths.
func WithPath(fn func(repository string) string) Option {
	return func(p *Provider) {
		if fn != nil {
			p.path = fn
		}
	}
}

type Provider struct {
	baseURL string
	client  *http.Client
	headers http.Header
	path    func(string) string
}

func New(cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	p := &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		headers: http.Header{},
		path:    httpapi.CollectionPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Ping checks the server liveness endpoint.
func (p *Provider) Ping(ctx context.Context) error {
	return p.do(ctx, http.MethodGet, "/livez", nil, nil, nil)
}

func (p *Provider) Find(ctx context.Context, repository, id string, _ repoctx.Options) (repoctx.Entity, error) {
	var out httpapi.ItemResponse
	if err := p.do(ctx, http.MethodGet, p.item(repository, id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (p *Provider) FindAll(ctx context.Context, repository string, state query.State, _ repoctx.Options) (repoctx.Result, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return repoctx.Result{}, fmt.Errorf("%w: encode state: %w", repoctx.ErrInvalidQuery, err)
	}
	params := url.Values{"q": []string{string(raw)}}

	var out httpapi.ListResponse
	if err := p.do(ctx, http.MethodGet, p.path(repository), params, nil, &out); err != nil {
		return repoctx.Result{}, err
	}
	if out.Data == nil {
		out.Data = []repoctx.Entity{}
	}
	return repoctx.Result{Data: out.Data, Meta: out.Meta}, nil
}

// Save creates with POST when the entity has no id and replaces with PUT
// otherwise.
func (p *Provider) Save(ctx context.Context, repository string, entity repoctx.Entity, _ repoctx.Options) (repoctx.Entity, error) {
	method, path := http.MethodPost, p.path(repository)
	if id := entity.ID(); id != "" {
		method, path = http.MethodPut, p.item(repository, id)
	}
	var out httpapi.ItemResponse
	if err := p.do(ctx, method, path, nil, entity, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (p *Provider) SaveAll(ctx context.Context, repository string, entities []repoctx.Entity, _ repoctx.Options) error {
	return p.do(ctx, http.MethodPost, p.path(repository)+"/batch", nil, httpapi.BatchRequest{Data: entities}, nil)
}

func (p *Provider) Remove(ctx context.Context, repository, id string, _ repoctx.Options) error {
	return p.do(ctx, http.MethodDelete, p.item(repository, id), nil, nil, nil)
}

func (p *Provider) RemoveAll(ctx context.Context, repository string, ids []string, _ repoctx.Options) error {
	return p.do(ctx, http.MethodDelete, p.path(repository), nil, httpapi.RemoveRequest{IDs: ids}, nil)
}

func (p *Provider) item(repository, id string) string {
	return p.path(repository) + "/" + url.PathEscape(id)
}

func (p *Provider) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	target := p.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode body: %w", repoctx.ErrInvalidArgument, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for key, values := range p.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	id := httpapi.RequestIDFrom(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	req.Header.Set(httpapi.RequestIDHeader, id)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var envelope httpapi.ErrorResponse
	message := strings.TrimSpace(string(raw))
	var details []string
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		details = envelope.Error.Details
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", repoctx.ErrNotFound, message)
	case http.StatusNotImplemented:
		return fmt.Errorf("%w: %s", repoctx.ErrNotImplemented, message)
	}
	if len(details) == 0 {
		details = []string{message}
	}
	return &repoctx.ProviderError{Status: resp.StatusCode, Errors: details}
}

// IsStatus reports whether err is a ProviderError with the given status.
func IsStatus(err error, status int) bool {
	var perr *repoctx.ProviderError
	return errors.As(err, &perr) && perr.Status == status
}

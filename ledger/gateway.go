package ledger

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
)

// GatewayBackend talks to an HTTP anchoring gateway:
//
//	POST /anchors          {"memo": "..."}     -> 201 {"txRef": "..."}
//	GET  /anchors/{txRef}                      -> 200 {"txRef", "status", "memo"}
type GatewayBackend struct {
	client *resty.Client
}

type gatewayAnchor struct {
	TxRef  string `json:"txRef"`
	Status string `json:"status"`
	Memo   string `json:"memo"`
}

type gatewayError struct {
	Message string `json:"message"`
}

func NewGatewayBackend(baseURL, token string) *GatewayBackend {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &GatewayBackend{client: client}
}

func (g *GatewayBackend) Name() string { return "gateway" }

func (g *GatewayBackend) Submit(ctx context.Context, memo []byte) (string, error) {
	var result gatewayAnchor
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"memo": string(memo)}).
		SetResult(&result).
		SetError(&gatewayError{}).
		Post("/anchors")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if err := statusError(resp); err != nil {
		return "", err
	}
	if result.TxRef == "" {
		return "", fmt.Errorf("%w: gateway returned no txRef", ErrRejected)
	}
	return result.TxRef, nil
}

func (g *GatewayBackend) Status(ctx context.Context, txRef string) (TxStatus, error) {
	anchor, err := g.get(ctx, txRef)
	if err != nil {
		return "", err
	}
	switch TxStatus(anchor.Status) {
	case StatusConfirmed:
		return StatusConfirmed, nil
	case StatusFailed:
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

func (g *GatewayBackend) Fetch(ctx context.Context, txRef string) ([]byte, error) {
	anchor, err := g.get(ctx, txRef)
	if err != nil {
		return nil, err
	}
	return []byte(anchor.Memo), nil
}

func (g *GatewayBackend) get(ctx context.Context, txRef string) (*gatewayAnchor, error) {
	var result gatewayAnchor
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&gatewayError{}).
		Get("/anchors/" + url.PathEscape(txRef))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotAnchored
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	return &result, nil
}

func statusError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*gatewayError); ok && e.Message != "" {
		msg = e.Message
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: gateway %s", ErrUnreachable, msg)
	}
	return fmt.Errorf("%w: gateway %s", ErrRejected, msg)
}

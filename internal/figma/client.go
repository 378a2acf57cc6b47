// Package figma talks to the Figma REST API through a rate-limit-aware
// fetcher and a response cache.
package figma

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/types"
)

// DefaultBaseURL is the public Figma API host.
const DefaultBaseURL = "https://api.figma.com"

const (
	labelImages       = "Figma image request"
	labelDownload     = "Figma image download"
	labelValidate     = "Figma token validation"
	validateTimeout   = 10 * time.Second
	tokenHeader       = "X-Figma-Token"
	maxErrorBodyBytes = 512
)

// ImageStore persists node renders per owner so later runs skip the API.
type ImageStore interface {
	GetNodeImage(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID string) (*types.NodeImage, error)
	PutNodeImage(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID string, img *types.NodeImage) error
}

// Client is a Figma API client.
type Client struct {
	baseURL string
	fetcher *Fetcher
	cache   Cache
	images  ImageStore
	now     func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCache sets the response cache.
func WithCache(c Cache) ClientOption {
	return func(cl *Client) { cl.cache = c }
}

// WithImageStore sets the persistent image store.
func WithImageStore(s ImageStore) ClientOption {
	return func(cl *Client) { cl.images = s }
}

// NewClient creates a client against baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, fetcher *Fetcher, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if fetcher == nil {
		fetcher = NewFetcher(nil, DefaultRetryOptions())
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
		cache:   NewMemoryCache(DefaultCacheTTL, nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type imagesResponse struct {
	Err    string             `json:"err"`
	Images map[string]*string `json:"images"`
}

// FetchNodeImage returns a PNG render of a node, or nil when the API has no
// image for it. Lookups go persistent store, then cache, then network.
func (c *Client) FetchNodeImage(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID, token string) (*types.NodeImage, error) {
	log := zap.S().Named("figma")
	key := CacheKey{Resource: ResourceImage, FileKey: fileKey, NodeID: nodeID}

	if c.images != nil {
		img, err := c.images.GetNodeImage(ctx, ownerID, fileKey, nodeID)
		if err != nil {
			log.Warnw("image store lookup failed", "file_key", fileKey, "node_id", nodeID, "error", err)
		} else if img != nil {
			c.storeCached(ctx, key, img)
			return img, nil
		}
	}

	if raw, ok := c.cache.Get(ctx, key); ok {
		var img types.NodeImage
		if err := json.Unmarshal(raw, &img); err == nil {
			return &img, nil
		}
	}

	img, err := c.fetchNodeImage(ctx, fileKey, nodeID, token)
	if err != nil || img == nil {
		return nil, err
	}

	c.storeCached(ctx, key, img)
	if c.images != nil {
		if err := c.images.PutNodeImage(ctx, ownerID, fileKey, nodeID, img); err != nil {
			log.Warnw("image store write failed", "file_key", fileKey, "node_id", nodeID, "error", err)
		}
	}
	return img, nil
}

func (c *Client) storeCached(ctx context.Context, key CacheKey, img *types.NodeImage) {
	raw, err := json.Marshal(img)
	if err != nil {
		return
	}
	c.cache.Set(ctx, key, raw)
}

func (c *Client) fetchNodeImage(ctx context.Context, fileKey, nodeID, token string) (*types.NodeImage, error) {
	endpoint := fmt.Sprintf("%s/v1/images/%s?ids=%s&format=png&scale=1",
		c.baseURL, url.PathEscape(fileKey), url.QueryEscape(nodeID))

	resp, err := c.fetcher.Do(ctx, Request{
		URL:    endpoint,
		Header: http.Header{tokenHeader: []string{token}},
		Label:  labelImages,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &Error{URL: endpoint, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("%s failed (%d) %s", labelImages, resp.StatusCode, truncate(resp.Body))}
	}

	var data imagesResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, &Error{URL: endpoint, Message: "invalid image response", Cause: err}
	}
	if data.Err != "" {
		return nil, &Error{URL: endpoint, StatusCode: resp.StatusCode, Message: "image response error: " + data.Err}
	}

	imageURL := data.Images[nodeID]
	if imageURL == nil || *imageURL == "" {
		zap.S().Named("figma").Warnw("image url missing", "file_key", fileKey, "node_id", nodeID)
		return nil, nil
	}

	img, err := c.fetcher.Do(ctx, Request{URL: *imageURL, Label: labelDownload})
	if err != nil {
		return nil, err
	}
	if !img.OK() {
		return nil, &Error{URL: *imageURL, StatusCode: img.StatusCode,
			Message: fmt.Sprintf("%s failed (%d)", labelDownload, img.StatusCode)}
	}

	return &types.NodeImage{
		PNGBase64:      base64.StdEncoding.EncodeToString(img.Body),
		SourceImageURL: *imageURL,
		FetchedAt:      c.now().UTC(),
	}, nil
}

// ValidateToken checks an access token against /v1/me with a single
// attempt. A rejected token yields an *Error carrying the upstream status.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	endpoint := c.baseURL + "/v1/me"
	resp, err := c.fetcher.Do(ctx, Request{
		URL:         endpoint,
		Header:      http.Header{tokenHeader: []string{token}},
		Label:       labelValidate,
		MaxAttempts: 1,
		Timeout:     validateTimeout,
	})
	if err != nil {
		return err
	}
	if resp.OK() {
		return nil
	}

	var msg string
	switch resp.StatusCode {
	case http.StatusForbidden:
		msg = "token is invalid or lacks the file_content:read scope"
	case http.StatusUnauthorized:
		msg = "token is invalid"
	default:
		msg = fmt.Sprintf("token validation failed (%d)", resp.StatusCode)
	}
	if body := truncate(resp.Body); body != "" {
		msg += ": " + body
	}
	return &Error{URL: endpoint, StatusCode: resp.StatusCode, Message: msg}
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBodyBytes {
		return s[:maxErrorBodyBytes]
	}
	return s
}

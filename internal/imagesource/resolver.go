// Package imagesource turns an analysis request's image reference into raw
// bytes. It understands inline data: URLs, object-store references and plain
// http(s) downloads.
package imagesource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"verifai/internal/domain"
)

// Reference points at the image to analyse. URL wins over ObjectKey when both
// are set.
type Reference struct {
	URL       string
	ObjectKey string
}

// Fetcher resolves a Reference into image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref Reference) ([]byte, error)
}

// ObjectStore reads a single object. Implementations must respect ctx.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Options configures a Resolver. When DefaultBucket is set, object URLs may
// only name that bucket.
type Options struct {
	HTTPClient    *http.Client
	Timeout       time.Duration
	MaxBytes      int64
	Store         ObjectStore
	DefaultBucket string

	// AllowedHosts restricts http(s) downloads to these hosts and their
	// subdomains. Empty allows any host.
	AllowedHosts []string
}

// Resolver is the production Fetcher.
type Resolver struct {
	httpClient    *http.Client
	timeout       time.Duration
	maxBytes      int64
	store         ObjectStore
	defaultBucket string
	allowedHosts  []string
}

// NewResolver builds a Resolver with defaults for any unset option.
func NewResolver(opts Options) *Resolver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	r := &Resolver{
		timeout:       timeout,
		maxBytes:      maxBytes,
		store:         opts.Store,
		defaultBucket: strings.TrimSpace(opts.DefaultBucket),
		allowedHosts:  opts.AllowedHosts,
	}

	client := http.Client{Timeout: timeout}
	if opts.HTTPClient != nil {
		client = *opts.HTTPClient
	}
	client.CheckRedirect = r.checkRedirect(client.CheckRedirect)
	r.httpClient = &client
	return r
}

// checkRedirect applies the host allowlist to every redirect hop before
// deferring to next, or to the default ten-hop limit.
func (r *Resolver) checkRedirect(next func(*http.Request, []*http.Request) error) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if !r.hostAllowed(req.URL.Hostname()) {
			return fmt.Errorf("redirect to host %q not allowed", req.URL.Hostname())
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
}

// Fetch implements Fetcher. Every error wraps domain.ErrAcquisition.
func (r *Resolver) Fetch(ctx context.Context, ref Reference) ([]byte, error) {
	data, err := r.fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAcquisition, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", domain.ErrAcquisition)
	}
	return data, nil
}

func (r *Resolver) fetch(ctx context.Context, ref Reference) ([]byte, error) {
	raw := strings.TrimSpace(ref.URL)
	if raw == "" {
		key := strings.TrimSpace(ref.ObjectKey)
		if key == "" {
			return nil, errors.New("no image reference")
		}
		return r.fromStore(ctx, r.defaultBucket, key)
	}

	if strings.HasPrefix(raw, "data:") {
		return decodeDataURL(raw, r.maxBytes)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse image url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "s3", "r2":
		return r.fromStore(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "http", "https":
		if !r.hostAllowed(u.Hostname()) {
			return nil, fmt.Errorf("image host %q not allowed", u.Hostname())
		}
		return r.download(ctx, u.String())
	default:
		return nil, fmt.Errorf("unsupported image url scheme %q", u.Scheme)
	}
}

func (r *Resolver) hostAllowed(host string) bool {
	if len(r.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range r.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (r *Resolver) fromStore(ctx context.Context, bucket, key string) ([]byte, error) {
	if r.store == nil {
		return nil, errors.New("object store not configured")
	}
	if bucket == "" {
		bucket = r.defaultBucket
	}
	if bucket == "" || key == "" {
		return nil, errors.New("object reference requires bucket and key")
	}
	if r.defaultBucket != "" && bucket != r.defaultBucket {
		return nil, fmt.Errorf("bucket %q not allowed", bucket)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("object exceeds %d bytes", r.maxBytes)
	}
	return data, nil
}

func (r *Resolver) download(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("download image: http %d", resp.StatusCode)
	}
	return readLimited(resp.Body, r.maxBytes)
}

func decodeDataURL(raw string, maxBytes int64) ([]byte, error) {
	header, payload, ok := strings.Cut(raw, ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}
	if !strings.HasSuffix(strings.ToLower(header), ";base64") {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
		return limitBytes([]byte(unescaped), maxBytes)
	}
	payload = strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
	}
	return limitBytes(data, maxBytes)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return limitBytes(data, maxBytes)
}

func limitBytes(data []byte, maxBytes int64) ([]byte, error) {
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	return data, nil
}

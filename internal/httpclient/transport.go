// Package httpclient is the shared, connection-pooled HTTP transport every
// extract handler downloads through. It never retries — retry is a policy
// layered above in internal/retry — but it does enforce the per-host
// concurrency cap that is the sole backpressure lever against remote
// endpoints (§5).
package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/1kimnet/geo-ingest/internal/observability"
)

// ErrorKind distinguishes the transport failure modes named in §4.3.
type ErrorKind string

const (
	ErrConnect    ErrorKind = "connect"    // DNS/connect failure
	ErrTLS        ErrorKind = "tls"        // TLS verification failure
	ErrTimeout    ErrorKind = "timeout"    // read timeout
	ErrStatus     ErrorKind = "status"     // non-2xx status
	ErrTruncated  ErrorKind = "truncated"  // body shorter than advertised
)

// TransportError is the structured error the transport returns; never a
// retry decision by itself — internal/retry classifies it.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration // parsed from Retry-After when Kind == ErrStatus and status is 429
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config configures the shared client.
type Config struct {
	MaxConnsPerHost     int
	MaxIdleConns        int
	Timeout             time.Duration
	PerHostConcurrency  int // default 4
	InsecureSkipVerify  bool     // not applied to the transport: TLS verification is always on
	TrustedHosts        []string // not applied to the transport: no per-host TLS exceptions
	ChunkSize           int      // streaming copy unit, default 64KiB
}

// Client is the shared, connection-pooled transport. Safe for concurrent
// use; the per-host semaphore is strictly enforced across every handler
// that shares this Client.
type Client struct {
	http   *http.Client
	cfg    Config
	logger observability.Logger
	metrics observability.Metrics

	mu        sync.Mutex
	semaphores map[string]chan struct{}
}

// New builds a shared transport from cfg.
func New(cfg Config, logger observability.Logger, metrics observability.Metrics) *Client {
	if cfg.PerHostConcurrency <= 0 {
		cfg.PerHostConcurrency = 4
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 8
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}

	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		http:       &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		semaphores: make(map[string]chan struct{}),
	}
}

func (c *Client) hostSemaphore(host string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.semaphores[host]
	if !ok {
		sem = make(chan struct{}, c.cfg.PerHostConcurrency)
		c.semaphores[host] = sem
	}
	return sem
}

// acquire blocks until a per-host slot is free or ctx is cancelled.
func (c *Client) acquire(ctx context.Context, rawURL string) (release func(), err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return nil, &TransportError{Kind: ErrConnect, Err: parseErr}
	}
	sem := c.hostSemaphore(u.Host)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get issues a GET request, streaming the response body. The caller must
// close the returned body. The response is never buffered into memory by
// this method.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, accept string) (*http.Response, error) {
	release, err := c.acquire(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer release()

	full := rawURL
	if len(params) > 0 {
		full = rawURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, &TransportError{Kind: ErrConnect, Err: err}
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyDoError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		te := &TransportError{Kind: ErrStatus, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
		if resp.StatusCode == http.StatusTooManyRequests {
			te.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		resp.Body.Close()
		return nil, te
	}

	return resp, nil
}

// DownloadToFile streams the response body at rawURL to destPath, writing
// first to destPath+".part" and atomically renaming on completion so a
// partial transfer never masquerades as a complete one (§5, recovered
// from original_source's etl/utils/io.py). The resolved Content-Length is
// checked against bytes actually written; a short body is reported as
// ErrTruncated.
func (c *Client) DownloadToFile(ctx context.Context, rawURL string, params url.Values, destPath string) (finalPath string, err error) {
	resp, err := c.Get(ctx, rawURL, params, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return c.SaveResponseToFile(ctx, resp, destPath)
}

// SaveResponseToFile streams an already-obtained response body to
// destPath using the same .part-then-rename convention as DownloadToFile.
// Callers that need to inspect response headers (Content-Disposition) to
// choose destPath call Get themselves and pass the response here,
// avoiding a second request.
func (c *Client) SaveResponseToFile(ctx context.Context, resp *http.Response, destPath string) (finalPath string, err error) {
	if mkErr := os.MkdirAll(filepath.Dir(destPath), 0o755); mkErr != nil {
		return "", &TransportError{Kind: ErrConnect, Err: mkErr}
	}

	partPath := destPath + ".part"
	f, createErr := os.Create(partPath)
	if createErr != nil {
		return "", &TransportError{Kind: ErrConnect, Err: createErr}
	}

	written, copyErr := copyChunked(ctx, f, resp.Body, c.cfg.ChunkSize)
	closeErr := f.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", &TransportError{Kind: ErrConnect, Err: closeErr}
	}

	if resp.ContentLength > 0 && written < resp.ContentLength {
		return "", &TransportError{Kind: ErrTruncated, Err: fmt.Errorf("wrote %d of %d advertised bytes", written, resp.ContentLength)}
	}

	if renameErr := os.Rename(partPath, destPath); renameErr != nil {
		return "", &TransportError{Kind: ErrConnect, Err: renameErr}
	}
	return destPath, nil
}

// copyChunked copies src into dst in chunkSize increments, checking ctx
// between each chunk so cancellation never waits longer than one chunk
// (§5's suspension-point bound).
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return total, &TransportError{Kind: ErrConnect, Err: writeErr}
			}
			total += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			if readErr == io.ErrUnexpectedEOF {
				return total, &TransportError{Kind: ErrTruncated, Err: readErr}
			}
			if netErr, ok := readErr.(net.Error); ok && netErr.Timeout() {
				return total, &TransportError{Kind: ErrTimeout, Err: readErr}
			}
			return total, &TransportError{Kind: ErrConnect, Err: readErr}
		}
	}
}

func classifyDoError(err error) error {
	var certInvalid x509.CertificateInvalidError
	var unknownAuth x509.UnknownAuthorityError
	var recordHeader tls.RecordHeaderError
	var certVerify *tls.CertificateVerificationError
	if errors.As(err, &certInvalid) || errors.As(err, &unknownAuth) || errors.As(err, &recordHeader) || errors.As(err, &certVerify) {
		return &TransportError{Kind: ErrTLS, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: ErrTimeout, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &TransportError{Kind: ErrTimeout, Err: err}
		}
	}
	return &TransportError{Kind: ErrConnect, Err: err}
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := time.ParseDuration(h + "s"); err == nil {
		return secs
	}
	if t, err := http.ParseTime(h); err == nil {
		return time.Until(t)
	}
	return 0
}

// defaultChunkSize is the streaming copy unit used when Config.ChunkSize
// is unset; no suspension point inside a transfer blocks cancellation for
// longer than one chunk (§5).
const defaultChunkSize = 64 * 1024

// Drain reads and discards body in defaultChunkSize increments, honoring
// ctx cancellation between chunks. Used when a caller must abort a
// transfer.
func Drain(ctx context.Context, body io.Reader) error {
	buf := make([]byte, defaultChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, err := body.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

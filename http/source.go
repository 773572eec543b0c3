// Package http serves remote archives over HTTP range requests.
//
// A Source is an io.ReaderAt plus Size, which is exactly what
// zipfile.NewReader and estargzfile.NewReader need, so containers can be
// addressed on remote servers without downloading them. The server must
// honor Range requests; Source refuses servers that ignore them rather
// than silently reading whole bodies.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
)

// Source implements random access reads against one remote URL.
//
// The remote content must not change while a Source is in use; archive
// readers interpret byte offsets from earlier reads. Source is safe for
// concurrent use.
type Source struct {
	url     string
	client  *nethttp.Client
	headers nethttp.Header
	logger  *slog.Logger
	size    int64
}

// NewSource probes url and returns a Source over it.
//
// The probe prefers a HEAD request and always verifies range support with
// a one-byte range GET; the authoritative size comes from the probe's
// Content-Range. ctx bounds the probe only, not later reads.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	size, err := s.probeSize(ctx)
	if err != nil {
		return nil, err
	}
	s.size = size
	s.log().Debug("probed remote archive", "url", url, "size", size)
	return s, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// URL returns the remote URL the source reads from.
func (s *Source) URL() string {
	return s.url
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// ReadAt implements io.ReaderAt with one range request per call. Reads
// crossing the end of the content return the available bytes with io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	expected := len(p)
	if end >= s.size {
		end = s.size - 1
		expected = int(end - off + 1)
	}

	resp, err := s.rangeRequest(context.Background(), off, end)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	if err := checkRangeStatus(resp.StatusCode, resp.Status); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(resp.Body, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadRange returns a reader for the byte range [off, off+length).
// Ranges starting at or past the end of the content return an empty
// reader with io.EOF; ranges running past the end are truncated. The
// caller must close the reader to release the HTTP connection.
func (s *Source) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if length < 0 {
		return nil, fmt.Errorf("read range length %d: negative length", length)
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if off < 0 {
		return nil, fmt.Errorf("read range %d: negative offset", off)
	}
	if off >= s.size {
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	}
	if length > s.size-off {
		length = s.size - off
	}

	resp, err := s.rangeRequest(ctx, off, off+length-1)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == nethttp.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	}
	if err := checkRangeStatus(resp.StatusCode, resp.Status); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &rangeReadCloser{
		body:   resp.Body,
		reader: io.LimitReader(resp.Body, length),
	}, nil
}

// probeSize determines the content size and verifies range support.
func (s *Source) probeSize(ctx context.Context) (int64, error) {
	headSize := int64(-1)
	if resp, err := s.doHead(ctx); err == nil {
		headSize = resp.ContentLength
		resp.Body.Close()
	}

	resp, err := s.rangeRequest(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != nethttp.StatusPartialContent {
		if resp.StatusCode == nethttp.StatusOK {
			return 0, errors.New("http: range requests not supported")
		}
		return 0, fmt.Errorf("http: range probe failed: %s", resp.Status)
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return 0, errors.New("http: range probe missing Content-Range")
	}
	size, err := parseContentRange(crange)
	if err != nil {
		return 0, err
	}
	if headSize > 0 && headSize != size {
		return 0, fmt.Errorf("http: content size mismatch: head=%d range=%d", headSize, size)
	}
	return size, nil
}

func (s *Source) doHead(ctx context.Context) (*nethttp.Response, error) {
	req, err := s.newRequest(ctx, nethttp.MethodHead)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

// rangeRequest performs a GET for the inclusive byte range [off, end].
func (s *Source) rangeRequest(ctx context.Context, off, end int64) (*nethttp.Response, error) {
	req, err := s.newRequest(ctx, nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	return s.client.Do(req)
}

func (s *Source) newRequest(ctx context.Context, method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	// Transparent compression would break offset arithmetic.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

// checkRangeStatus classifies a range response status.
func checkRangeStatus(code int, status string) error {
	switch code {
	case nethttp.StatusPartialContent:
		return nil
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return io.EOF
	case nethttp.StatusOK:
		return errors.New("http: range requests not supported")
	default:
		return fmt.Errorf("http: range request failed: %s", status)
	}
}

// rangeReadCloser wraps an HTTP response body with a limit reader.
// It drains the body on close to enable connection reuse.
type rangeReadCloser struct {
	body   io.ReadCloser
	reader io.Reader
}

func (r *rangeReadCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *rangeReadCloser) Close() error {
	_, _ = io.Copy(io.Discard, r.body) //nolint:errcheck // best-effort drain for connection reuse
	return r.body.Close()
}

// parseContentRange extracts the total size from a Content-Range header
// value of the form "bytes start-end/size".
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	return size, nil
}

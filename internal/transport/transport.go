// Package transport performs single-shard PUT/GET/DELETE calls against
// one storage node.
//
// This layer is deliberately thin: one HTTP call per operation, a bounded
// per-call timeout, and a typed error describing what went wrong. It never
// retries; the pipelines decide what an individual failure means (quorum
// on the write side, degraded reads on the read side).
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/abishekgiri/planetstore/internal/cluster"
)

// Kind categorizes a failed shard call.
type Kind int

const (
	KindTimeout Kind = iota
	KindConnectionRefused
	KindHTTPStatus
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection_refused"
	case KindHTTPStatus:
		return "http_status"
	default:
		return "other"
	}
}

// Error is the discriminated failure of one shard call. Status is set
// only for KindHTTPStatus.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("shard call failed: status %d", e.Status)
	}
	return fmt.Sprintf("shard call failed: %s: %s", e.Kind, e.Msg)
}

// Default per-call timeouts.
const (
	DefaultPutTimeout    = 10 * time.Second
	DefaultGetTimeout    = 5 * time.Second
	DefaultDeleteTimeout = 5 * time.Second
)

// Client issues shard operations. Safe for concurrent use.
type Client struct {
	http          *http.Client
	putTimeout    time.Duration
	getTimeout    time.Duration
	deleteTimeout time.Duration
}

// NewClient returns a shard transport client with the default timeouts.
func NewClient() *Client {
	return &Client{
		http:          &http.Client{},
		putTimeout:    DefaultPutTimeout,
		getTimeout:    DefaultGetTimeout,
		deleteTimeout: DefaultDeleteTimeout,
	}
}

// NewClientWithTimeouts overrides the per-operation timeouts; zero values
// keep the defaults. Used by tests to keep failure cases fast.
func NewClientWithTimeouts(put, get, del time.Duration) *Client {
	c := NewClient()
	if put > 0 {
		c.putTimeout = put
	}
	if get > 0 {
		c.getTimeout = get
	}
	if del > 0 {
		c.deleteTimeout = del
	}
	return c
}

// shardURL builds the node's internal object URL with every path segment
// escaped. Shard keys embed the client's object key, so "%", "?", or "#"
// would otherwise corrupt or truncate the URL, and a "#" swallowing the
// nonce suffix would re-collide concurrent writes to the same key.
func shardURL(node cluster.NodeInfo, bucket, shardKey string) string {
	segs := []string{escapeSegment(bucket)}
	for _, seg := range strings.Split(shardKey, "/") {
		segs = append(segs, escapeSegment(seg))
	}
	return node.BaseURL + "/internal/objects/" + strings.Join(segs, "/")
}

// escapeSegment escapes one URL path segment. Dots are unreserved, so "."
// and ".." survive url.PathEscape and would be folded away by path
// cleaning on the node; force them into percent form.
func escapeSegment(seg string) string {
	switch seg {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(seg)
}

// PutShard uploads one shard as a multipart form (field "file") to the
// node's internal object endpoint. Same (bucket, shardKey) overwrites.
func (c *Client) PutShard(ctx context.Context, node cluster.NodeInfo, bucket, shardKey string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", shardKey)
	if err != nil {
		return &Error{Kind: KindOther, Msg: err.Error()}
	}
	if _, err := fw.Write(data); err != nil {
		return &Error{Kind: KindOther, Msg: err.Error()}
	}
	if err := mw.Close(); err != nil {
		return &Error{Kind: KindOther, Msg: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.putTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, shardURL(node, bucket, shardKey), &body)
	if err != nil {
		return &Error{Kind: KindOther, Msg: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: KindHTTPStatus, Status: resp.StatusCode}
	}
	return nil
}

// GetShard fetches one shard's exact bytes. A 404 surfaces as an
// HTTPStatus error like any other non-200.
func (c *Client) GetShard(ctx context.Context, node cluster.NodeInfo, bucket, shardKey string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.getTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shardURL(node, bucket, shardKey), nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, Msg: err.Error()}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}
	return body, nil
}

// DeleteShard removes one shard. Nodes answer 200 for deleted and 404
// for already-absent; both are success here.
func (c *Client) DeleteShard(ctx context.Context, node cluster.NodeInfo, bucket, shardKey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.deleteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, shardURL(node, bucket, shardKey), nil)
	if err != nil {
		return &Error{Kind: KindOther, Msg: err.Error()}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return &Error{Kind: KindHTTPStatus, Status: resp.StatusCode}
	}
	return nil
}

// classify maps low-level client errors onto the error kinds the
// pipelines report on.
func classify(err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Msg: err.Error()}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindTimeout, Msg: err.Error()}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Error{Kind: KindConnectionRefused, Msg: err.Error()}
	default:
		return &Error{Kind: KindOther, Msg: err.Error()}
	}
}

// Checksum returns the hex xxhash64 digest stored alongside each shard in
// the layout. Reads verify it before counting a shard toward K.
func Checksum(data []byte) string {
	return strconv.FormatUint(xxhash.Checksum64(data), 16)
}

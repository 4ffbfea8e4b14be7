// Package errs defines the error taxonomy shared by the gateway's
// pipelines, metadata store, and HTTP surface.
//
// Every failure that crosses a package boundary is one of these types so
// the gateway can map it to a status code without string matching:
//
//	NotFound            -> 404
//	QuotaExceededError  -> 507
//	QuorumError         -> 502
//	DegradedError       -> 502
//	CapacityError       -> 500
//	BadRequest          -> 400
//	anything else       -> 500
package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a missing bucket, object key, or version.
var ErrNotFound = errors.New("not found")

// ErrBadRequest indicates malformed client input (illegal names, empty
// multipart body, bad part numbers).
var ErrBadRequest = errors.New("bad request")

// QuotaExceededError is returned by the quota gate when a proposed write
// would push a bucket past one of its limits. Dimension is either "size"
// or "objects"; Used is the projected usage including the proposed write.
type QuotaExceededError struct {
	Dimension string
	Used      int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("bucket quota exceeded: %d/%d %s", e.Used, e.Limit, e.Dimension)
}

// QuorumError is returned by the write pipeline when fewer than the
// required number of shard PUTs succeeded.
type QuorumError struct {
	Needed int
	Got    int
	Total  int
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("failed to meet quorum: needed %d/%d, got %d/%d", e.Needed, e.Total, e.Got, e.Total)
}

// DegradedError is returned by the read pipeline when fewer than K
// distinct shards could be retrieved.
type DegradedError struct {
	Needed int
	Got    int
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("could not retrieve enough shards: need %d, got %d", e.Needed, e.Got)
}

// CapacityError is returned by node placement when the cluster has fewer
// nodes than the requested shard count.
type CapacityError struct {
	Needed int
	Have   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("not enough storage nodes: need %d, have %d", e.Needed, e.Have)
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/abishekgiri/planetstore/internal/cluster"
	"github.com/abishekgiri/planetstore/internal/erasure"
	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/quota"
	"github.com/abishekgiri/planetstore/internal/registry"
	"github.com/abishekgiri/planetstore/internal/transport"
)

// fakeNode is an in-memory storage node speaking the internal shard
// contract. failing flips every PUT and GET to a 500 so tests can take
// nodes down without tearing the listener away.
type fakeNode struct {
	id      string
	srv     *httptest.Server
	mu      sync.Mutex
	shards  map[string][]byte
	puts    atomic.Int64
	failing atomic.Bool
}

func (n *fakeNode) handler(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/internal/objects/")
	if n.failing.Load() {
		http.Error(w, "node down", http.StatusInternalServerError)
		return
	}
	switch r.Method {
	case http.MethodPut:
		n.puts.Add(1)
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		n.mu.Lock()
		n.shards[key] = data
		n.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		n.mu.Lock()
		data, ok := n.shards[key]
		n.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Write(data)
	case http.MethodDelete:
		n.mu.Lock()
		_, ok := n.shards[key]
		delete(n.shards, key)
		n.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (n *fakeNode) shardCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.shards)
}

// corrupt flips a byte in every stored shard on this node.
func (n *fakeNode) corrupt() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, v := range n.shards {
		if len(v) > 0 {
			v = append([]byte(nil), v...)
			v[0] ^= 0xff
			n.shards[k] = v
		}
	}
}

type fixture struct {
	pipeline *Pipeline
	store    *meta.Store
	nodes    []*fakeNode
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	nodes := make([]*fakeNode, 6)
	infos := make([]cluster.NodeInfo, 6)
	regions := map[string][]string{"us-east": {}, "eu-west": {}, "ap-south": {}}
	order := []string{"us-east", "eu-west", "ap-south"}
	for i := range nodes {
		n := &fakeNode{id: fmt.Sprintf("node%d", i+1), shards: make(map[string][]byte)}
		n.srv = httptest.NewServer(http.HandlerFunc(n.handler))
		t.Cleanup(n.srv.Close)
		nodes[i] = n
		region := order[i/2]
		infos[i] = cluster.NodeInfo{ID: n.id, BaseURL: n.srv.URL, Region: region}
		regions[region] = append(regions[region], n.id)
	}

	store, err := meta.Open(":memory:")
	if err != nil {
		t.Fatalf("meta.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := registry.New(infos, regions, order)
	gate := quota.NewGate(store, 0, 0)
	pl := New(store, erasure.MustCodec(), reg, transport.NewClient(), gate, nil)
	return &fixture{pipeline: pl, store: store, nodes: nodes}
}

func (f *fixture) totalPuts() int64 {
	var n int64
	for _, node := range f.nodes {
		n += node.puts.Load()
	}
	return n
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := []byte("twinkle twinkle little shard, how I wonder what you are")

	res, err := f.pipeline.Write(ctx, "photos", "star.txt", blob, WriteOptions{Consistency: Eventual})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Deduplicated || res.ShardsStored != 6 {
		t.Fatalf("result = %+v", res)
	}
	for i, n := range f.nodes {
		if n.shardCount() != 1 {
			t.Errorf("node %d holds %d shards, want 1", i, n.shardCount())
		}
	}

	got, ver, err := f.pipeline.Read(ctx, "photos", "star.txt", "")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("read %d bytes, mismatch", len(got))
	}
	if ver.VersionID != res.Version.VersionID {
		t.Errorf("read version %s, wrote %s", ver.VersionID, res.Version.VersionID)
	}
}

func TestWriteEmptyBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.pipeline.Write(ctx, "b", "empty", nil, WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _, err := f.pipeline.Read(ctx, "b", "empty", "")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bytes", len(got))
	}
}

func TestDedupSecondWriteStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := []byte("identical content, different keys")

	if _, err := f.pipeline.Write(ctx, "b", "first", blob, WriteOptions{}); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	before := f.totalPuts()

	res, err := f.pipeline.Write(ctx, "b", "second", blob, WriteOptions{})
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if !res.Deduplicated || res.ShardsStored != 0 {
		t.Fatalf("result = %+v", res)
	}
	if after := f.totalPuts(); after != before {
		t.Errorf("dedup write issued %d shard PUTs", after-before)
	}

	// Both keys read back.
	for _, key := range []string{"first", "second"} {
		got, _, err := f.pipeline.Read(ctx, "b", key, "")
		if err != nil {
			t.Fatalf("Read(%s): %v", key, err)
		}
		if !bytes.Equal(got, blob) {
			t.Errorf("Read(%s) mismatch", key)
		}
	}
}

func TestEventualNeedsAllNodes(t *testing.T) {
	f := newFixture(t)
	f.nodes[5].failing.Store(true)

	_, err := f.pipeline.Write(context.Background(), "b", "k", []byte("payload"), WriteOptions{Consistency: Eventual})
	var qe *errs.QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuorumError, got %v", err)
	}
	if qe.Needed != 6 || qe.Got != 5 {
		t.Errorf("quorum = %+v", qe)
	}

	// Failed write must not leave a readable object or orphan shards on
	// healthy nodes.
	if _, _, err := f.pipeline.Read(context.Background(), "b", "k", ""); !errs.IsNotFound(err) {
		t.Errorf("read after failed write: %v", err)
	}
	for i, n := range f.nodes[:5] {
		if n.shardCount() != 0 {
			t.Errorf("node %d kept %d orphan shards", i, n.shardCount())
		}
	}
}

func TestStrongToleratesTwoNodeLoss(t *testing.T) {
	f := newFixture(t)
	f.nodes[4].failing.Store(true)
	f.nodes[5].failing.Store(true)
	ctx := context.Background()
	blob := []byte("strong consistency survives two losses")

	res, err := f.pipeline.Write(ctx, "b", "k", blob, WriteOptions{Consistency: Strong})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.ShardsStored != 4 {
		t.Errorf("stored %d shards, want 4", res.ShardsStored)
	}

	got, _, err := f.pipeline.Read(ctx, "b", "k", "")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Error("read mismatch")
	}
}

func TestStrongFailsBelowK(t *testing.T) {
	f := newFixture(t)
	for _, i := range []int{3, 4, 5} {
		f.nodes[i].failing.Store(true)
	}
	_, err := f.pipeline.Write(context.Background(), "b", "k", []byte("x"), WriteOptions{Consistency: Strong})
	var qe *errs.QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuorumError, got %v", err)
	}
	if qe.Needed != 4 || qe.Got != 3 {
		t.Errorf("quorum = %+v", qe)
	}
}

func TestReadDegradedBelowK(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.pipeline.Write(ctx, "b", "k", []byte("soon unreadable"), WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Two nodes out: still readable.
	f.nodes[0].failing.Store(true)
	f.nodes[1].failing.Store(true)
	if _, _, err := f.pipeline.Read(ctx, "b", "k", ""); err != nil {
		t.Fatalf("Read with 2 nodes down: %v", err)
	}

	// Three out: below K.
	f.nodes[2].failing.Store(true)
	_, _, err := f.pipeline.Read(ctx, "b", "k", "")
	var de *errs.DegradedError
	if !errors.As(err, &de) {
		t.Fatalf("expected DegradedError, got %v", err)
	}
	if de.Needed != 4 || de.Got != 3 {
		t.Errorf("degraded = %+v", de)
	}
}

func TestReadDiscardsCorruptShards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := []byte("checksums catch silent corruption before decode")
	if _, err := f.pipeline.Write(ctx, "b", "k", blob, WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f.nodes[0].corrupt()
	f.nodes[1].corrupt()
	got, _, err := f.pipeline.Read(ctx, "b", "k", "")
	if err != nil {
		t.Fatalf("Read with 2 corrupt shards: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatal("read mismatch")
	}

	f.nodes[2].corrupt()
	if _, _, err := f.pipeline.Read(ctx, "b", "k", ""); err == nil {
		t.Error("read succeeded with only 3 intact shards")
	}
}

func TestDeleteRemovesShardsAtLastReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := []byte("shared content")

	f.pipeline.Write(ctx, "b", "k1", blob, WriteOptions{})
	f.pipeline.Write(ctx, "b", "k2", blob, WriteOptions{})

	res, err := f.pipeline.Delete(ctx, "b", "k1")
	if err != nil {
		t.Fatalf("Delete k1: %v", err)
	}
	if res.ContentDeleted {
		t.Fatal("content deleted while k2 references it")
	}
	for i, n := range f.nodes {
		if n.shardCount() != 1 {
			t.Fatalf("node %d lost its shard early (%d)", i, n.shardCount())
		}
	}

	res, err = f.pipeline.Delete(ctx, "b", "k2")
	if err != nil {
		t.Fatalf("Delete k2: %v", err)
	}
	if !res.ContentDeleted {
		t.Fatal("last delete kept the content")
	}
	for i, n := range f.nodes {
		if n.shardCount() != 0 {
			t.Errorf("node %d still holds %d shards", i, n.shardCount())
		}
	}
}

func TestQuotaRejectionStoresNothing(t *testing.T) {
	f := newFixture(t)
	// Rebuild the pipeline with a 10-byte gate over the same collaborators.
	f.pipeline.Quota = quota.NewGate(f.store, 10, 100)

	_, err := f.pipeline.Write(context.Background(), "b", "k", bytes.Repeat([]byte("x"), 64), WriteOptions{})
	var qe *errs.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if f.totalPuts() != 0 {
		t.Errorf("rejected write issued %d PUTs", f.totalPuts())
	}
}

// Concurrent writers to the same key must both succeed with distinct
// shard keys, and exactly one ends up latest.
func TestConcurrentWritesSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errsCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob := []byte(fmt.Sprintf("writer %d content", i))
			_, err := f.pipeline.Write(ctx, "b", "contested", blob, WriteOptions{})
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)
	for err := range errsCh {
		if err != nil {
			t.Fatalf("concurrent write: %v", err)
		}
	}

	versions, err := f.store.ListVersions("b", "contested")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("got %d versions", len(versions))
	}
	latest := 0
	for _, v := range versions {
		if v.IsLatest {
			latest++
		}
	}
	if latest != 1 {
		t.Errorf("%d versions marked latest", latest)
	}

	// The latest version must read back intact (nonce keys kept the two
	// uploads' shards apart).
	if _, _, err := f.pipeline.Read(ctx, "b", "contested", ""); err != nil {
		t.Errorf("read after concurrent writes: %v", err)
	}
}

func TestVersionedRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1, err := f.pipeline.Write(ctx, "b", "k", []byte("version one"), WriteOptions{})
	if err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if _, err := f.pipeline.Write(ctx, "b", "k", []byte("version two"), WriteOptions{}); err != nil {
		t.Fatalf("write v2: %v", err)
	}

	got, _, err := f.pipeline.Read(ctx, "b", "k", r1.Version.VersionID)
	if err != nil {
		t.Fatalf("read v1: %v", err)
	}
	if string(got) != "version one" {
		t.Errorf("v1 = %q", got)
	}
	got, _, err = f.pipeline.Read(ctx, "b", "k", "")
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if string(got) != "version two" {
		t.Errorf("latest = %q", got)
	}
}

func TestWriteValidatesInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline.Write(context.Background(), "", "k", []byte("x"), WriteOptions{}); !errors.Is(err, errs.ErrBadRequest) {
		t.Errorf("empty bucket: %v", err)
	}
	if _, err := f.pipeline.Write(context.Background(), "b", "", []byte("x"), WriteOptions{}); !errors.Is(err, errs.ErrBadRequest) {
		t.Errorf("empty key: %v", err)
	}
}

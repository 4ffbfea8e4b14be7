package gateway

import (
	"bytes"
	"fmt"
	"io"
	mimemultipart "mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abishekgiri/planetstore/internal/cluster"
	"github.com/abishekgiri/planetstore/internal/config"
	"github.com/abishekgiri/planetstore/internal/erasure"
	"github.com/abishekgiri/planetstore/internal/gc"
	"github.com/abishekgiri/planetstore/internal/health"
	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/multipart"
	"github.com/abishekgiri/planetstore/internal/pipeline"
	"github.com/abishekgiri/planetstore/internal/quota"
	"github.com/abishekgiri/planetstore/internal/registry"
	"github.com/abishekgiri/planetstore/internal/transport"
)

// fakeNode mimics one storage node for end-to-end gateway tests.
type fakeNode struct {
	id      string
	mu      sync.Mutex
	shards  map[string][]byte
	failing atomic.Bool
}

func (n *fakeNode) handler(w http.ResponseWriter, r *http.Request) {
	if n.failing.Load() {
		http.Error(w, "down", http.StatusInternalServerError)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/internal/objects/")
	switch r.Method {
	case http.MethodPut:
		r.ParseMultipartForm(64 << 20)
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
		delete(n.shards, key)
		n.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

type env struct {
	srv   *httptest.Server
	nodes []*fakeNode
	store *meta.Store
}

func newEnv(t *testing.T, rpm int) *env {
	t.Helper()

	nodes := make([]*fakeNode, 6)
	infos := make([]cluster.NodeInfo, 6)
	regions := map[string][]string{"us-east": {}, "eu-west": {}, "ap-south": {}}
	order := []string{"us-east", "eu-west", "ap-south"}
	for i := range nodes {
		n := &fakeNode{id: fmt.Sprintf("node%d", i+1), shards: make(map[string][]byte)}
		srv := httptest.NewServer(http.HandlerFunc(n.handler))
		t.Cleanup(srv.Close)
		nodes[i] = n
		region := order[i/2]
		infos[i] = cluster.NodeInfo{ID: n.id, BaseURL: srv.URL, Region: region}
		regions[region] = append(regions[region], n.id)
	}

	store, err := meta.Open(":memory:")
	if err != nil {
		t.Fatalf("meta.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Nodes:        infos,
		Regions:      regions,
		RateLimitRPM: rpm,
	}
	reg := registry.New(infos, regions, order)
	gate := quota.NewGate(store, 0, 0)
	pl := pipeline.New(store, erasure.MustCodec(), reg, transport.NewClient(), gate, nil)
	mon := health.NewMonitor(infos, time.Minute)
	sweeper := gc.NewSweeper(store, pl, time.Hour, 7*24*time.Hour, 5)
	mp, err := multipart.NewManager(store, t.TempDir())
	if err != nil {
		t.Fatalf("multipart.NewManager: %v", err)
	}

	gw := NewServer(cfg, store, pl, gate, reg, mon, sweeper, mp, nil)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return &env{srv: srv, nodes: nodes, store: store}
}

func (e *env) do(t *testing.T, method, path string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

// upload PUTs data wrapped in the multipart "file" form that object PUT
// and part upload expect.
func (e *env) upload(t *testing.T, path string, data []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := mimemultipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "blob")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req, err := http.NewRequest(http.MethodPut, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestBucketLifecycle(t *testing.T) {
	e := newEnv(t, 0)

	resp, _ := e.do(t, http.MethodPost, "/buckets", []byte(`{"name":"photos","versioning_enabled":true}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/buckets", []byte(`{"name":"photos"}`))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create: %d", resp.StatusCode)
	}

	resp, body := e.do(t, http.MethodGet, "/buckets", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "photos") {
		t.Errorf("list: %d %s", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodGet, "/buckets/photos", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"quota"`) {
		t.Errorf("info: %d %s", resp.StatusCode, body)
	}

	resp, _ = e.do(t, http.MethodPost, "/buckets", []byte(`{}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("nameless create: %d", resp.StatusCode)
	}
}

func TestObjectPutGetDelete(t *testing.T) {
	e := newEnv(t, 0)
	blob := []byte("a photo of six shards in a trench coat")

	resp, body := e.upload(t, "/buckets/photos/objects/album/cat.jpg", blob)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("put: %d %s", resp.StatusCode, body)
	}
	var put putResponse
	if err := json.Unmarshal(body, &put); err != nil {
		t.Fatalf("decode put: %v", err)
	}
	if put.Deduplicated || put.ShardsStored != 6 || put.VersionID == "" {
		t.Errorf("put = %+v", put)
	}
	if put.SizeBytes != int64(len(blob)) {
		t.Errorf("stored %d bytes, sent %d", put.SizeBytes, len(blob))
	}

	resp, body = e.do(t, http.MethodGet, "/buckets/photos/objects/album/cat.jpg", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %d", resp.StatusCode)
	}
	if !bytes.Equal(body, blob) {
		t.Fatalf("get returned %d bytes", len(body))
	}
	if resp.Header.Get("X-Version-Id") != put.VersionID {
		t.Errorf("X-Version-Id = %q", resp.Header.Get("X-Version-Id"))
	}

	resp, body = e.do(t, http.MethodGet, "/buckets/photos/objects", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "album/cat.jpg") {
		t.Errorf("list objects: %d %s", resp.StatusCode, body)
	}

	resp, _ = e.do(t, http.MethodDelete, "/buckets/photos/objects/album/cat.jpg", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, "/buckets/photos/objects/album/cat.jpg", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: %d", resp.StatusCode)
	}
}

// Object PUT and part upload take a multipart form with a "file" field,
// not a raw body.
func TestPutRequiresFileField(t *testing.T) {
	e := newEnv(t, 0)

	resp, _ := e.do(t, http.MethodPut, "/buckets/b/objects/k", []byte("raw bytes"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("raw object put: %d", resp.StatusCode)
	}

	_, body := e.do(t, http.MethodPost, "/buckets/b/objects/k/uploads", nil)
	var sess meta.MultipartSession
	json.Unmarshal(body, &sess)
	resp, _ = e.do(t, http.MethodPut, "/buckets/b/uploads/"+sess.UploadID+"/parts/1", []byte("raw bytes"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("raw part put: %d", resp.StatusCode)
	}
}

func TestDeduplicatedPut(t *testing.T) {
	e := newEnv(t, 0)
	blob := []byte("same bytes twice")

	e.upload(t, "/buckets/b/objects/one", blob)
	_, body := e.upload(t, "/buckets/b/objects/two", blob)

	var put putResponse
	json.Unmarshal(body, &put)
	if !put.Deduplicated || put.ShardsStored != 0 {
		t.Errorf("second put = %+v", put)
	}
}

func TestVersioning(t *testing.T) {
	e := newEnv(t, 0)

	_, body := e.upload(t, "/buckets/b/objects/doc", []byte("v1"))
	var first putResponse
	json.Unmarshal(body, &first)
	e.upload(t, "/buckets/b/objects/doc", []byte("v2"))

	resp, body := e.do(t, http.MethodGet, "/buckets/b/objects/doc?versions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("versions: %d", resp.StatusCode)
	}
	if got := strings.Count(string(body), `"version_id"`); got != 2 {
		t.Errorf("listed %d versions", got)
	}

	resp, body = e.do(t, http.MethodGet, "/buckets/b/objects/doc?version_id="+first.VersionID, nil)
	if resp.StatusCode != http.StatusOK || string(body) != "v1" {
		t.Errorf("versioned get: %d %q", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodGet, "/buckets/b/objects/doc", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "v2" {
		t.Errorf("latest get: %d %q", resp.StatusCode, body)
	}
}

func TestQuotaExceededResponse(t *testing.T) {
	e := newEnv(t, 0)
	e.do(t, http.MethodPost, "/buckets", []byte(`{"name":"tight"}`))

	resp, _ := e.do(t, http.MethodPut, "/buckets/tight/quota", []byte(`{"max_size_bytes":10,"max_objects":100}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set quota: %d", resp.StatusCode)
	}

	resp, _ = e.upload(t, "/buckets/tight/objects/big", bytes.Repeat([]byte("x"), 50))
	if resp.StatusCode != http.StatusInsufficientStorage {
		t.Fatalf("oversized put: %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Quota-Used") != "50" || resp.Header.Get("X-Quota-Limit") != "10" {
		t.Errorf("quota headers = %s / %s", resp.Header.Get("X-Quota-Used"), resp.Header.Get("X-Quota-Limit"))
	}

	resp, body := e.do(t, http.MethodGet, "/buckets/tight/quota", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"max_size_bytes":10`) {
		t.Errorf("get quota: %d %s", resp.StatusCode, body)
	}
}

func TestDegradedReadIs502(t *testing.T) {
	e := newEnv(t, 0)
	e.upload(t, "/buckets/b/objects/k", []byte("fragile"))

	for _, i := range []int{0, 1, 2} {
		e.nodes[i].failing.Store(true)
	}
	resp, _ := e.do(t, http.MethodGet, "/buckets/b/objects/k", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("degraded get: %d", resp.StatusCode)
	}
}

func TestQuorumFailureIs502(t *testing.T) {
	e := newEnv(t, 0)
	e.nodes[5].failing.Store(true)

	resp, _ := e.upload(t, "/buckets/b/objects/k?consistency=eventual", []byte("needs all six"))
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("eventual with node down: %d", resp.StatusCode)
	}

	resp, _ = e.upload(t, "/buckets/b/objects/k?consistency=strong", []byte("needs four"))
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("strong with node down: %d", resp.StatusCode)
	}
}

func TestMultipartFlow(t *testing.T) {
	e := newEnv(t, 0)

	resp, body := e.do(t, http.MethodPost, "/buckets/b/objects/big.bin/uploads", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("initiate: %d %s", resp.StatusCode, body)
	}
	var sess meta.MultipartSession
	if err := json.Unmarshal(body, &sess); err != nil || sess.UploadID == "" {
		t.Fatalf("session: %v %s", err, body)
	}

	base := "/buckets/b/uploads/" + sess.UploadID
	resp, _ = e.upload(t, base+"/parts/1", []byte("hello "))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("part 1: %d", resp.StatusCode)
	}
	resp, _ = e.upload(t, base+"/parts/2", []byte("multipart world"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("part 2: %d", resp.StatusCode)
	}

	resp, body = e.do(t, http.MethodPost, base+"/complete", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("complete: %d %s", resp.StatusCode, body)
	}
	var put putResponse
	json.Unmarshal(body, &put)
	if put.SizeBytes != int64(len("hello multipart world")) {
		t.Errorf("assembled size = %d", put.SizeBytes)
	}

	resp, body = e.do(t, http.MethodGet, "/buckets/b/objects/big.bin", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "hello multipart world" {
		t.Errorf("read assembled: %d %q", resp.StatusCode, body)
	}
}

func TestMultipartAbort(t *testing.T) {
	e := newEnv(t, 0)
	_, body := e.do(t, http.MethodPost, "/buckets/b/objects/k/uploads", nil)
	var sess meta.MultipartSession
	json.Unmarshal(body, &sess)

	resp, _ := e.do(t, http.MethodDelete, "/buckets/b/uploads/"+sess.UploadID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("abort: %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/buckets/b/uploads/"+sess.UploadID+"/complete", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("complete after abort: %d", resp.StatusCode)
	}
}

func TestRateLimiting(t *testing.T) {
	e := newEnv(t, 2)

	for i := 0; i < 2; i++ {
		resp, _ := e.do(t, http.MethodGet, "/buckets", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: %d", i, resp.StatusCode)
		}
	}
	resp, _ := e.do(t, http.MethodGet, "/buckets", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third request: %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if resp.Header.Get("X-RateLimit-Limit") != "2" {
		t.Errorf("X-RateLimit-Limit = %q", resp.Header.Get("X-RateLimit-Limit"))
	}

	// Admin and health paths bypass the limiter.
	resp, _ = e.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health while limited: %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, "/admin/gc/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin while limited: %d", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	e := newEnv(t, 0)
	e.upload(t, "/buckets/b/objects/k", []byte("observable"))

	resp, body := e.do(t, http.MethodGet, "/admin/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin metrics: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"total_objects":1`) {
		t.Errorf("metrics body: %s", body)
	}

	resp, body = e.do(t, http.MethodGet, "/admin/health", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"total_count":6`) {
		t.Errorf("admin health: %d %s", resp.StatusCode, body)
	}

	resp, _ = e.do(t, http.MethodGet, "/admin/health?node_id=node3", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("single node health: %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, "/admin/health?node_id=ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown node health: %d", resp.StatusCode)
	}

	resp, body = e.do(t, http.MethodGet, "/admin/regions", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "us-east") {
		t.Errorf("regions: %d %s", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodGet, "/nodes", nil)
	if resp.StatusCode != http.StatusOK || strings.Count(string(body), `"node_id"`) != 6 {
		t.Errorf("nodes: %d %s", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodPost, "/admin/gc", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("manual gc: %d %s", resp.StatusCode, body)
	}
	resp, _ = e.do(t, http.MethodGet, "/admin/gc/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("gc status: %d", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("prometheus: %d", resp.StatusCode)
	}
}

func TestNotFoundPaths(t *testing.T) {
	e := newEnv(t, 0)
	for _, path := range []string{
		"/buckets/none/objects/missing",
		"/buckets/none/objects",
	} {
		resp, _ := e.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: %d", path, resp.StatusCode)
		}
	}
}

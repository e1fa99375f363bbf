package httpjob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quickdb/internal/resultwire"
	"quickdb/internal/scatter"
	"quickdb/internal/shardstore"
	"quickdb/internal/sharedvalue"
	"quickdb/internal/wire"
	"quickdb/internal/worker"
)

func testSecret() []byte {
	secret := make([]byte, 300)
	for i := range secret {
		secret[i] = byte('a' + i%26)
	}
	return secret
}

// pipeListener is an in-memory net.Listener: dialing pushes the server
// half of a net.Pipe pair in, Accept pops it out, one per connection.
type pipeListener struct {
	conns chan net.Conn
}

func newPipeListener() *pipeListener { return &pipeListener{conns: make(chan net.Conn)} }

func (l *pipeListener) Accept() (net.Conn, error) {
	c, ok := <-l.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return c, nil
}
func (l *pipeListener) Close() error   { close(l.conns); return nil }
func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// floatShard builds a one-column memory shard for test catalogs.
func floatShard(n int, vals []float64) shardstore.Shard {
	return shardstore.NewMemShard(n, map[string]shardstore.Vector{
		"x": {Kind: shardstore.KindFloat, Floats: vals},
	})
}

// newTestService wires a multi-worker fleet, each an in-process
// worker.Worker served over a net.Pipe listener, behind one Service —
// the same shape production wiring uses (scatter.New would dial real
// TCP; here Dial hands back the client half of a pipe pair routed to
// the matching worker's listener).
func newTestService(t *testing.T, stores map[string]shardstore.Store) *Service {
	t.Helper()
	secret := testSecret()
	listeners := map[string]*pipeListener{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addrs := make([]string, 0, len(stores))
	for addr, store := range stores {
		addrs = append(addrs, addr)
		ln := newPipeListener()
		listeners[addr] = ln
		w := worker.New(store, secret, "", 2, nil)
		go func() { _ = w.Serve(ctx, ln) }()
	}

	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		listeners[addr].conns <- server
		return client, nil
	}

	s := scatter.New(addrs, secret)
	s.Dial = dial
	return New(s, nil)
}

func newJobsRequest(t *testing.T, body sharedvalue.Map) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if err := wire.WriteEnvelope(&buf, body); err != nil {
		t.Fatalf("write request envelope: %v", err)
	}
	r, err := http.NewRequest(http.MethodPost, "/jobs", io.NopCloser(&buf))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	r.Header.Set("Content-Type", ContentType)
	return r
}

func decodeResponse(t *testing.T, b []byte) sharedvalue.Map {
	t.Helper()
	m, err := wire.ReadEnvelope(bufio.NewReader(bytes.NewReader(b)))
	if err != nil {
		t.Fatalf("decode response envelope: %v", err)
	}
	return m
}

func TestHandleCreateSynchronousAggregateJob(t *testing.T) {
	store := shardstore.NewMemStore(map[string][]shardstore.Shard{
		"catalog": {floatShard(3, []float64{1, 2, 3}), floatShard(2, []float64{4, 5})},
	})
	svc := newTestService(t, map[string]shardstore.Store{"w1": store})

	req := newJobsRequest(t, sharedvalue.Map{
		"sql": sharedvalue.ScalarOf("SELECT COUNT(*) AS n, SUM(x) AS s FROM catalog"),
	})
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec.Body.Bytes())
	status, err := resp["status"].AsString()
	if err != nil || status != "done" {
		t.Fatalf("expected done, got %+v (err %v)", resp, err)
	}
	result, err := resp["result"].AsMap()
	if err != nil {
		t.Fatalf("result not a map: %v", err)
	}
	agg, err := resultwire.DecodeAggResult(result)
	if err != nil {
		t.Fatalf("decode agg result: %v", err)
	}
	if len(agg.Rows) != 1 {
		t.Fatalf("expected one row, got %d", len(agg.Rows))
	}
	if agg.Names[0] != "$group_by" {
		t.Fatalf("expected $group_by prepended, got %v", agg.Names)
	}
	if n := agg.Rows[0][1].(int64); n != 5 {
		t.Fatalf("expected n=5, got %d", n)
	}
	if s := agg.Rows[0][2].(float64); s != 15 {
		t.Fatalf("expected sum=15, got %v", s)
	}
}

func TestHandleCreateSynchronousNonAggregateJobAcrossWorkers(t *testing.T) {
	storeA := shardstore.NewMemStore(map[string][]shardstore.Shard{
		"catalog": {floatShard(3, []float64{3, 1, 2})},
	})
	storeB := shardstore.NewMemStore(map[string][]shardstore.Shard{
		"catalog": {floatShard(2, []float64{5, 4})},
	})
	svc := newTestService(t, map[string]shardstore.Store{"w1": storeA, "w2": storeB})

	req := newJobsRequest(t, sharedvalue.Map{
		"sql": sharedvalue.ScalarOf("SELECT x FROM catalog ORDER BY x DESC LIMIT 3"),
	})
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec.Body.Bytes())
	status, _ := resp["status"].AsString()
	if status != "done" {
		t.Fatalf("expected done, got %+v", resp)
	}
	result, err := resp["result"].AsMap()
	if err != nil {
		t.Fatalf("result not a map: %v", err)
	}
	names, targets, err := resultwire.DecodeNonAggRows(result)
	if err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(names) != 1 || names[0] != "x" {
		t.Fatalf("unexpected names: %v", names)
	}
	vec := targets[0].(shardstore.Vector)
	if len(vec.Floats) != 3 || vec.Floats[0] != 5 || vec.Floats[1] != 4 || vec.Floats[2] != 3 {
		t.Fatalf("expected globally sorted/limited [5,4,3], got %v", vec.Floats)
	}
}

func TestHandleCreateDeferredThenPoll(t *testing.T) {
	store := shardstore.NewMemStore(map[string][]shardstore.Shard{
		"catalog": {floatShard(3, []float64{1, 2, 3})},
	})
	svc := newTestService(t, map[string]shardstore.Store{"w1": store})

	req := newJobsRequest(t, sharedvalue.Map{
		"sql":      sharedvalue.ScalarOf("SELECT COUNT(*) AS n FROM catalog"),
		"deferred": sharedvalue.ScalarOf(true),
	})
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec.Body.Bytes())
	idVal, ok := resp["job_id"]
	if !ok {
		t.Fatalf("expected job_id in response, got %+v", resp)
	}
	id, err := idVal.AsString()
	if err != nil {
		t.Fatalf("job_id not a string: %v", err)
	}

	var pollResp sharedvalue.Map
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pollRec := httptest.NewRecorder()
		pollReq, _ := http.NewRequest(http.MethodGet, "/jobs/"+id, nil)
		svc.Routes().ServeHTTP(pollRec, pollReq)
		if pollRec.Code == http.StatusNotFound {
			t.Fatalf("job disappeared before completing")
		}
		pollResp = decodeResponse(t, pollRec.Body.Bytes())
		if status, _ := pollResp["status"].AsString(); status == "done" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status, _ := pollResp["status"].AsString(); status != "done" {
		t.Fatalf("job did not complete in time, last status %+v", pollResp)
	}

	// Terminal read deletes the job: a second poll is 404.
	secondRec := httptest.NewRecorder()
	secondReq, _ := http.NewRequest(http.MethodGet, "/jobs/"+id, nil)
	svc.Routes().ServeHTTP(secondRec, secondReq)
	if secondRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second terminal read, got %d", secondRec.Code)
	}
}

func TestHandleCreateRejectsWrongContentType(t *testing.T) {
	svc := newTestService(t, map[string]shardstore.Store{"w1": shardstore.NewMemStore(nil)})
	req := newJobsRequest(t, sharedvalue.Map{"sql": sharedvalue.ScalarOf("SELECT 1")})
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleShowUnknownJobIs404(t *testing.T) {
	svc := newTestService(t, map[string]shardstore.Store{"w1": shardstore.NewMemStore(nil)})
	req, _ := http.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleDeleteCancelsRunningJob(t *testing.T) {
	store := shardstore.NewMemStore(map[string][]shardstore.Shard{
		"catalog": {floatShard(3, []float64{1, 2, 3})},
	})
	svc := newTestService(t, map[string]shardstore.Store{"w1": store})

	req := newJobsRequest(t, sharedvalue.Map{
		"sql":      sharedvalue.ScalarOf("SELECT COUNT(*) AS n FROM catalog"),
		"deferred": sharedvalue.ScalarOf(true),
	})
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)
	resp := decodeResponse(t, rec.Body.Bytes())
	id, _ := resp["job_id"].AsString()

	delRec := httptest.NewRecorder()
	delReq, _ := http.NewRequest(http.MethodDelete, "/jobs/"+id, nil)
	svc.Routes().ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", delRec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	var last sharedvalue.Map
	for time.Now().Before(deadline) {
		pollRec := httptest.NewRecorder()
		pollReq, _ := http.NewRequest(http.MethodGet, "/jobs/"+id, nil)
		svc.Routes().ServeHTTP(pollRec, pollReq)
		if pollRec.Code == http.StatusNotFound {
			last = nil
			break
		}
		last = decodeResponse(t, pollRec.Body.Bytes())
		if status, _ := last["status"].AsString(); status != "running" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if last != nil {
		if status, _ := last["status"].AsString(); status == "running" {
			t.Fatalf("job still running after cancellation")
		}
	}
}

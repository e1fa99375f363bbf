// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// HTTP job service (C9), grounded on original_source/quickdb/sqlhttp/
// sqlserver.go's Flask routes and jsonnpy.py's one wire codec reused
// for every request/response body. Accepts a SQL job over HTTP in one
// of three modes (synchronous, deferred/polled, streaming), fans it
// out to the worker fleet via internal/scatter, and folds each
// worker's terminal contribution with the same agg.Plan.Merge /
// nonagg.Plan.Reducer primitives C6 uses intra-worker.
package httpjob

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quickdb/internal/cache"
	"quickdb/internal/expr"
	"quickdb/internal/logging"
	"quickdb/internal/planir"
	"quickdb/internal/planner/agg"
	"quickdb/internal/planner/nonagg"
	"quickdb/internal/qerrors"
	"quickdb/internal/resultwire"
	"quickdb/internal/safeevent"
	"quickdb/internal/scatter"
	"quickdb/internal/shardstore"
	"quickdb/internal/sharedvalue"
	"quickdb/internal/wire"
)

// ContentType is the wire content type spec §4.9/§6 mandate for every
// request and response body this service handles.
const ContentType = "application/x-jsonnpy"

// terminalRetention is how long a finished job's result stays fetchable
// by GET after it completes, when nobody polls it to completion
// (spec §5 "Shared resources" 30s retention window).
const terminalRetention = 30 * time.Second

// Service is the master-side HTTP job service: one Scatter fans jobs
// out to the worker fleet, one Cache retains running and recently-
// finished Job records by id.
type Service struct {
	Scatter *scatter.Scatter
	Jobs    *cache.Cache
	Log     *zap.Logger
}

// New constructs a Service.
func New(s *scatter.Scatter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Scatter: s, Jobs: cache.New(), Log: logging.WithComponent(log, "httpjob")}
}

// Routes returns the three-endpoint mux spec §4.9 describes.
func (s *Service) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/", s.handleJobByID)
	return mux
}

func (s *Service) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handleCreate(w, r)
}

func (s *Service) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleShow(w, r, id)
	case http.MethodDelete:
		s.handleDelete(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// job is the master-side record of one in-flight or recently-finished
// query, polled by GET and cancellable by DELETE.
type job struct {
	ID     string
	cancel *safeevent.SafeEvent
	done   chan struct{}

	mu       sync.Mutex
	status   string // "running", "done", "error"
	progress wire.Progress
	result   sharedvalue.Map
	reason   string
}

func newJob(id string) *job {
	return &job{ID: id, cancel: safeevent.New(), done: make(chan struct{}), status: "running"}
}

func (j *job) setProgress(done, total int) {
	j.mu.Lock()
	j.progress = wire.Progress{Done: done, Total: total}
	j.mu.Unlock()
}

func (j *job) finish(result sharedvalue.Map) {
	j.mu.Lock()
	j.status = "done"
	j.result = result
	j.mu.Unlock()
	close(j.done)
}

func (j *job) fail(reason string) {
	j.mu.Lock()
	j.status = "error"
	j.reason = reason
	j.mu.Unlock()
	close(j.done)
}

func (j *job) snapshot() (status string, progress wire.Progress, result sharedvalue.Map, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, j.progress, j.result, j.reason
}

func (j *job) wait() { <-j.done }

// handleCreate implements POST /jobs in its three response modes:
// streaming (a chunked progress/end stream, no persisted job record),
// deferred (returns {job_id} immediately, client polls GET), and
// synchronous (blocks until the job finishes, returns its final
// envelope directly).
func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !hasContentType(r) {
		http.Error(w, "expected content type "+ContentType, http.StatusBadRequest)
		return
	}
	req, err := decodeEnvelope(r.Body)
	if err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	sql, err := req.sql()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	shared := req.sharedValues()

	if req.streaming() {
		s.serveStreaming(w, r, sql, shared)
		return
	}

	id := uuid.NewString()
	compiled, err := planir.Compile(id, sql, shared, 0)
	if err != nil {
		writeEnvelope(w, errorEnvelope(err))
		return
	}
	j := newJob(id)
	s.Jobs.Set(id, j, 0)
	go s.run(j, compiled)

	if req.deferred() {
		writeEnvelope(w, sharedvalue.Map{"job_id": sharedvalue.ScalarOf(id)})
		return
	}
	j.wait()
	s.Jobs.Delete(id)
	writeEnvelope(w, responseFor(j))
}

// handleShow implements GET /jobs/{id}: a tri-state snapshot of the
// job's current status. A terminal read deletes the job immediately,
// matching sqlserver.py's resonse_for popping the job from its table
// once a 'done' or 'error' response is served.
func (s *Service) handleShow(w http.ResponseWriter, r *http.Request, id string) {
	j, ok := s.lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	resp := responseFor(j)
	status, _, _, _ := j.snapshot()
	if status != "running" {
		s.Jobs.Delete(id)
	}
	writeEnvelope(w, resp)
}

// handleDelete implements DELETE /jobs/{id}: sets the job's cancel
// signal. The job ends on its own, asynchronously, once the cancel
// propagates through the scatter/worker chain — this handler never
// blocks on that.
func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	j, ok := s.lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	j.cancel.Set()
	writeEnvelope(w, sharedvalue.Map{})
}

func (s *Service) lookup(id string) (*job, bool) {
	v, ok := s.Jobs.Get(id)
	if !ok {
		return nil, false
	}
	j, ok := v.(*job)
	return j, ok
}

// responseFor builds the tri-state payload spec §4.9 describes for
// GET /jobs/{id} (and, when sync, the synchronous POST /jobs response
// that shares its shape).
func responseFor(j *job) sharedvalue.Map {
	status, progress, result, reason := j.snapshot()
	switch status {
	case "error":
		return sharedvalue.Map{
			"status": sharedvalue.ScalarOf("error"),
			"reason": sharedvalue.ScalarOf(reason),
		}
	case "done":
		return sharedvalue.Map{
			"status": sharedvalue.ScalarOf("done"),
			"result": sharedvalue.MapOf(result),
		}
	default:
		return sharedvalue.Map{
			"status": sharedvalue.ScalarOf("running"),
			"progress": sharedvalue.ListOf(
				sharedvalue.ScalarOf(float64(progress.Done)),
				sharedvalue.ScalarOf(float64(progress.Total)),
			),
		}
	}
}

// run is the job's background execution: resolve locally (the same
// way every worker does), scatter to the fleet, and fold every
// worker's terminal contribution with the plan's own merge/reduce
// primitive before finalizing once.
func (s *Service) run(j *job, compiled *planir.CompiledJob) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	stop := safeevent.FireIfSet(j.cancel, cancelCtx)
	defer stop()

	// Every terminal transition re-Sets the job with terminalRetention so
	// a client polling GET /jobs/{id} after a deferred job completes still
	// finds it for a bounded window, matching the job not having been
	// Set with any expiry at creation (it must survive until done).
	fail := func(msg string) {
		j.fail(msg)
		s.Jobs.Set(j.ID, j, terminalRetention)
	}

	resolved, err := planir.Resolve(compiled)
	if err != nil {
		fail(qerrors.ToQuickDBError(err).Message)
		return
	}

	results, err := s.Scatter.Run(ctx, compiled, j.setProgress)
	if err != nil {
		fail(qerrors.ToQuickDBError(err).Message)
		return
	}

	var out sharedvalue.Map
	if resolved.Agg != nil {
		out, err = reduceAgg(resolved.Agg, results)
	} else {
		var plan *nonagg.Plan
		plan, err = nonagg.Build(resolved.Select, compiled.Shared, false)
		if err == nil {
			out, err = reduceNonAgg(plan, results)
		}
	}
	if err != nil {
		fail(qerrors.ToQuickDBError(err).Message)
		return
	}
	j.finish(out)
	s.Jobs.Set(j.ID, j, terminalRetention)
}

// reduceAgg folds one agg.Result per worker via the same Plan.Merge
// C6 uses intra-worker (see DESIGN.md "Cross-worker/cross-chunk
// merge"), then prepends the $group_by virtual column spec §4.9
// requires before packing the final envelope.
func reduceAgg(plan *agg.Plan, results []scatter.WorkerResult) (sharedvalue.Map, error) {
	var acc *agg.Result
	for _, wr := range results {
		res, err := resultwire.DecodeAggResult(wr.Result)
		if err != nil {
			return nil, err
		}
		acc, err = plan.Merge(acc, res)
		if err != nil {
			return nil, err
		}
	}
	if acc == nil {
		acc = &agg.Result{}
	}
	return resultwire.EncodeAggResult(withGroupByColumn(acc)), nil
}

// withGroupByColumn prepends a "$group_by" column listing each row's
// GROUP BY key tuple (the \x1f-joined scalar values partitionByGroup
// encoded, split back apart), per spec §4.9's "a virtual column
// $group_by is prepended listing the group-key tuples".
func withGroupByColumn(res *agg.Result) *agg.Result {
	names := append([]string{"$group_by"}, res.Names...)
	rows := make([][]expr.Value, len(res.Rows))
	for i, row := range res.Rows {
		tuple := strings.Split(res.GroupKeys[i], "\x1f")
		rows[i] = append([]expr.Value{groupTuple(tuple)}, row...)
	}
	return &agg.Result{Names: names, Rows: rows, GroupKeys: res.GroupKeys}
}

// groupTuple packs a GROUP BY key's component values (already split on
// partitionByGroup's \x1f join separator) into one cell. A
// single-column GROUP BY (or none at all) collapses to a bare scalar
// string instead of a one-element vector, matching the common case a
// client doing `SELECT g, COUNT(*) GROUP BY g` expects; a multi-column
// GROUP BY becomes a string vector resultwire already knows how to
// encode.
func groupTuple(parts []string) expr.Value {
	if len(parts) == 1 {
		return parts[0]
	}
	return shardstore.Vector{Kind: shardstore.KindString, Strings: parts}
}

// reduceNonAgg folds one worker's un-finalized MapperResult into the
// next via the plan's own Reducer — the exact cross-worker reduce
// spec §4.7 describes, not the aggregate path's bounded Merge
// compromise, since MapperResult is concrete and wire-encodable — then
// finalizes once (ORDER BY/LIMIT truncation).
func reduceNonAgg(plan *nonagg.Plan, results []scatter.WorkerResult) (sharedvalue.Map, error) {
	var acc *nonagg.MapperResult
	for _, wr := range results {
		res, err := resultwire.DecodeMapperResult(wr.Result)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = res
			continue
		}
		acc, err = plan.Reducer(acc, res)
		if err != nil {
			return nil, err
		}
	}
	if acc == nil {
		acc = &nonagg.MapperResult{}
	}
	targets, err := plan.Finalizer(acc)
	if err != nil {
		return nil, err
	}
	return resultwire.EncodeNonAggRows(plan.Names, targets), nil
}

// serveStreaming implements the streaming=true response mode: a
// chunked stream of {type:"progress",...} envelopes as the job runs,
// terminated by {type:"end"} or {type:"error",reason}. Grounded on
// sqlserver.py's streaming_response, which likewise never ships the
// final result value over the stream — a streaming client is expected
// to already have what it needs from the progress frames, or to poll
// the job separately. Unlike the deferred/synchronous paths, no Job
// record is created: the whole lifecycle lives in this handler call.
func (s *Service) serveStreaming(w http.ResponseWriter, r *http.Request, sql string, shared sharedvalue.Map) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", ContentType)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	compiled, err := planir.Compile(id, sql, shared, 0)
	if err != nil {
		_ = wire.WriteEnvelope(w, sharedvalue.Map{
			"type":   sharedvalue.ScalarOf("error"),
			"reason": sharedvalue.ScalarOf(qerrors.ToQuickDBError(err).Message),
		})
		return
	}

	onProgress := func(done, total int) {
		_ = wire.WriteEnvelope(w, sharedvalue.Map{
			"type": sharedvalue.ScalarOf("progress"),
			"progress": sharedvalue.ListOf(
				sharedvalue.ScalarOf(float64(done)),
				sharedvalue.ScalarOf(float64(total)),
			),
		})
		if flusher != nil {
			flusher.Flush()
		}
	}

	_, err = s.Scatter.Run(ctx, compiled, onProgress)
	if err != nil {
		_ = wire.WriteEnvelope(w, sharedvalue.Map{
			"type":   sharedvalue.ScalarOf("error"),
			"reason": sharedvalue.ScalarOf(qerrors.ToQuickDBError(err).Message),
		})
		if flusher != nil {
			flusher.Flush()
		}
		return
	}
	_ = wire.WriteEnvelope(w, sharedvalue.Map{"type": sharedvalue.ScalarOf("end")})
	if flusher != nil {
		flusher.Flush()
	}
}

func errorEnvelope(err error) sharedvalue.Map {
	return sharedvalue.Map{
		"status": sharedvalue.ScalarOf("error"),
		"reason": sharedvalue.ScalarOf(qerrors.ToQuickDBError(err).Message),
	}
}

func hasContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true // a bare TCP/curl client may omit it; body shape still governs
	}
	mediaType := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	return mediaType == ContentType
}

func writeEnvelope(w http.ResponseWriter, m sharedvalue.Map) {
	w.Header().Set("Content-Type", ContentType)
	_ = wire.WriteEnvelope(w, m)
}

// requestBody is the decoded POST /jobs body: {sql, shared, deferred?,
// streaming?} (spec §4.9), reusing the same length-prefixed-json-plus-
// array-archive envelope codec C8 transports over raw TCP (grounded on
// jsonnpy.py's dump/load being one codec used uniformly for every
// request and response). "shared" nests as a sharedvalue.KindMap value.
type requestBody sharedvalue.Map

func decodeEnvelope(body io.Reader) (requestBody, error) {
	m, err := wire.ReadEnvelope(bufio.NewReader(body))
	if err != nil {
		return nil, err
	}
	return requestBody(m), nil
}

func (b requestBody) sql() (string, error) {
	v, ok := b["sql"]
	if !ok {
		return "", qerrors.NewUser("missing \"sql\"", nil)
	}
	s, err := v.AsString()
	if err != nil {
		return "", qerrors.NewUser("\"sql\" must be a string", nil)
	}
	return s, nil
}

func (b requestBody) deferred() bool { return boolField(b, "deferred") }
func (b requestBody) streaming() bool { return boolField(b, "streaming") }

func boolField(b requestBody, key string) bool {
	v, ok := b[key]
	if !ok || v.Kind != sharedvalue.KindScalar {
		return false
	}
	bv, _ := v.Scalar.(bool)
	return bv
}

func (b requestBody) sharedValues() sharedvalue.Map {
	v, ok := b["shared"]
	if !ok {
		return sharedvalue.Map{}
	}
	m, err := v.AsMap()
	if err != nil {
		return sharedvalue.Map{}
	}
	return m
}


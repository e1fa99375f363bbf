// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Worker job engine (C6), grounded on original_source/quickdb/workerd.py
// and sql2mapreduce/worker.py: a fixed-size process pool sized to local
// CPU count processes chunks of the local shard list for one compiled
// job at a time per connection, folding chunk results into a running
// accumulator and reporting progress as each chunk completes.
package worker

import (
	"bufio"
	"context"
	"net"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"quickdb/internal/logging"
	"quickdb/internal/planir"
	"quickdb/internal/planner/agg"
	"quickdb/internal/planner/nonagg"
	"quickdb/internal/qerrors"
	"quickdb/internal/resultwire"
	"quickdb/internal/safeevent"
	"quickdb/internal/shardstore"
	"quickdb/internal/sharedvalue"
	"quickdb/internal/wire"
)

// maxChunkSize caps the per-chunk shard count regardless of fleet size
// or CPU count, matching spec §4.6's `min(ceil(N/cpu_count), 1024)`.
const maxChunkSize = 1024

// Worker owns the local shard store and the bounded chunk-processing
// pool described in spec §4.6.
type Worker struct {
	Store      shardstore.Store
	Secret     []byte
	MasterAddr string
	Parallel   int
	Log        *zap.Logger

	mu    sync.Mutex
	cache map[string]*planir.Resolved
}

// New constructs a Worker. parallel <= 0 defaults to runtime.NumCPU(),
// matching the "pool sized to local CPU count" contract.
func New(store shardstore.Store, secret []byte, masterAddr string, parallel int, log *zap.Logger) *Worker {
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		Store:      store,
		Secret:     secret,
		MasterAddr: masterAddr,
		Parallel:   parallel,
		Log:        logging.WithComponent(log, "worker"),
		cache:      map[string]*planir.Resolved{},
	}
}

// Serve accepts connections on ln, one handleConn goroutine each, until
// ctx is cancelled or Accept fails.
func (w *Worker) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go w.handleConn(ctx, conn)
	}
}

func (w *Worker) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	if err := wire.Authenticate(r, bw, conn.RemoteAddr(), w.MasterAddr, w.Secret); err != nil {
		w.Log.Warn("auth failed", zap.Error(err), zap.String("peer", conn.RemoteAddr().String()))
		return
	}

	msg, err := wire.ReadMessage(r)
	if err != nil {
		return
	}
	if msg.Type != wire.MsgStart || msg.Job == nil {
		_ = wire.WriteMessage(bw, wire.SysErrorMessage("", "expected a start message"))
		return
	}
	log := logging.WithJob(w.Log, msg.Job.JobID)

	// A single reader goroutine owns r for the rest of the connection's
	// life, watching for the master's Interrupt frame while the job
	// runs; main goroutine only ever writes to bw from here on, so the
	// two never race over the shared bufio pair.
	cancel := safeevent.New()
	go func() {
		for {
			m, err := wire.ReadMessage(r)
			if err != nil || m.Type == wire.MsgInterrupt {
				cancel.Set()
				return
			}
		}
	}()

	jobCtx, stop := context.WithCancel(ctx)
	defer stop()
	stopWatch := safeevent.FireIfSet(cancel, stop)
	defer stopWatch()

	var wmu sync.Mutex
	writeMsg := func(m wire.Message) error {
		wmu.Lock()
		defer wmu.Unlock()
		return wire.WriteMessage(bw, m)
	}

	result, err := w.runJob(jobCtx, msg.Job, func(done, total int) {
		_ = writeMsg(wire.ProgressMessage(done, total))
	})
	if err != nil {
		log.Info("job failed", zap.Error(err))
		w.sendError(writeMsg, conn.LocalAddr().String(), err)
		return
	}

	wmu.Lock()
	defer wmu.Unlock()
	if err := wire.WriteMessage(bw, wire.Message{Type: wire.MsgResult}); err != nil {
		return
	}
	if err := wire.WriteEnvelope(bw, result); err != nil {
		return
	}
	_ = bw.Flush()
}

func (w *Worker) sendError(writeMsg func(wire.Message) error, worker string, err error) {
	if qe, ok := err.(*qerrors.QuickDBError); ok && qerrors.IsUserFacing(qe) {
		_ = writeMsg(wire.UserErrorMessage(qe.Message))
		return
	}
	qe := qerrors.NewSystem(worker, err)
	_ = writeMsg(wire.SysErrorMessage(worker, qe.Message))
}

// resolve returns job's recompiled plan, serving it from the
// single-slot cache when the slot already holds this job-id (so a job
// id that arrives again on a later connection is not re-parsed),
// replacing the slot otherwise — grounded on workerd.py's
// CachedEvaluate.
func (w *Worker) resolve(job *planir.CompiledJob) (*planir.Resolved, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, ok := w.cache[job.JobID]; ok {
		return r, nil
	}
	r, err := planir.Resolve(job)
	if err != nil {
		return nil, err
	}
	w.cache = map[string]*planir.Resolved{job.JobID: r}
	return r, nil
}

// runJob is the worker-local half of spec §4.6: resolve the job,
// chunk its shard list, fold chunk results with bounded parallelism,
// and pack the finished accumulator for the wire.
func (w *Worker) runJob(ctx context.Context, job *planir.CompiledJob, onProgress func(done, total int)) (sharedvalue.Map, error) {
	resolved, err := w.resolve(job)
	if err != nil {
		return nil, err
	}
	shards, err := w.Store.ListShards(job.Rerun)
	if err != nil {
		return nil, err
	}
	chunks := chunkShards(shards, chunkSizeFor(len(shards), w.Parallel, job.ChunkSize))

	if resolved.Agg != nil {
		res, err := w.runAggChunks(ctx, resolved.Agg, chunks, job.Shared, onProgress)
		if err != nil {
			return nil, err
		}
		return resultwire.EncodeAggResult(res), nil
	}

	plan, err := nonagg.Build(resolved.Select, job.Shared, false)
	if err != nil {
		return nil, err
	}
	acc, err := w.runNonAggChunks(ctx, plan, chunks, onProgress)
	if err != nil {
		return nil, err
	}
	return resultwire.EncodeMapperResult(acc), nil
}

// chunkSizeFor applies spec §4.6's sizing rule: the user-supplied
// override when present, else min(ceil(N/parallel), maxChunkSize).
func chunkSizeFor(n, parallel, override int) int {
	if override > 0 {
		return override
	}
	if n == 0 {
		return 1
	}
	if parallel <= 0 {
		parallel = 1
	}
	size := (n + parallel - 1) / parallel
	if size > maxChunkSize {
		size = maxChunkSize
	}
	if size < 1 {
		size = 1
	}
	return size
}

func chunkShards(shards []shardstore.Shard, size int) [][]shardstore.Shard {
	if len(shards) == 0 {
		return [][]shardstore.Shard{{}}
	}
	chunks := make([][]shardstore.Shard, 0, (len(shards)+size-1)/size)
	for i := 0; i < len(shards); i += size {
		end := i + size
		if end > len(shards) {
			end = len(shards)
		}
		chunks = append(chunks, shards[i:end])
	}
	return chunks
}

// runAggChunks dispatches every chunk to the bounded pool immediately
// (so the semaphore, not the dispatch loop, governs concurrency) and
// folds each chunk's already-finalized Result into the running
// accumulator via Plan.Merge — the same merge logic C7 later reuses to
// fold one Result per worker.
func (w *Worker) runAggChunks(ctx context.Context, plan *agg.Plan, chunks [][]shardstore.Shard, shared sharedvalue.Map, onProgress func(int, int)) (*agg.Result, error) {
	sem := semaphore.NewWeighted(int64(w.Parallel))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var acc *agg.Result
	done, total := 0, len(chunks)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return qerrors.Cancelled()
			}
			defer sem.Release(1)

			res, err := plan.Run(chunk, shared)
			if err != nil {
				return err
			}

			mu.Lock()
			merged, mergeErr := plan.Merge(acc, res)
			if mergeErr == nil {
				acc = merged
			}
			done++
			d, t := done, total
			mu.Unlock()
			if mergeErr != nil {
				return mergeErr
			}
			onProgress(d, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, qerrors.Cancelled()
		}
		return nil, err
	}
	return acc, nil
}

// runNonAggChunks mirrors runAggChunks for the non-aggregate planner:
// each chunk is mapped shard-by-shard and reduced locally, then the
// chunk accumulator is folded into the running total. Unlike the
// aggregate path, the accumulator returned here is NOT finalized —
// spec §4.7 has the master reducer fold one contribution per worker
// and apply Finalizer itself exactly once, so the worker ships its
// local MapperResult (targets + sort keys) as-is and leaves the global
// ORDER BY/LIMIT truncation to the master.
func (w *Worker) runNonAggChunks(ctx context.Context, plan *nonagg.Plan, chunks [][]shardstore.Shard, onProgress func(int, int)) (*nonagg.MapperResult, error) {
	sem := semaphore.NewWeighted(int64(w.Parallel))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var acc *nonagg.MapperResult
	done, total := 0, len(chunks)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return qerrors.Cancelled()
			}
			defer sem.Release(1)

			var chunkAcc *nonagg.MapperResult
			for _, shard := range chunk {
				res, err := plan.Mapper(shard)
				if err != nil {
					return err
				}
				if chunkAcc == nil {
					chunkAcc = res
					continue
				}
				chunkAcc, err = plan.Reducer(chunkAcc, res)
				if err != nil {
					return err
				}
			}

			mu.Lock()
			var foldErr error
			switch {
			case chunkAcc == nil:
			case acc == nil:
				acc = chunkAcc
			default:
				acc, foldErr = plan.Reducer(acc, chunkAcc)
			}
			done++
			d, t := done, total
			mu.Unlock()
			if foldErr != nil {
				return foldErr
			}
			onProgress(d, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, qerrors.Cancelled()
		}
		return nil, err
	}
	if acc == nil {
		acc, _ = plan.Mapper(emptyShard{})
	}
	return acc, nil
}

// emptyShard satisfies shardstore.Shard for the degenerate zero-shard
// case, so Finalizer always has a well-formed (possibly empty) result
// to work from instead of a special nil path.
type emptyShard struct{}

func (emptyShard) Size() int { return 0 }
func (emptyShard) Column(path []string) (shardstore.Vector, error) {
	return shardstore.Fill(shardstore.KindFloat, 0), nil
}
func (emptyShard) Slice(maskOrIndices any) (shardstore.Shard, error) { return emptyShard{}, nil }

// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Scatter is the master-side fan-out engine (C7), generalized from
// the teacher's internal/fanout/fanout.go (parallel query fanout to
// Citus nodes, one goroutine per node via errgroup.WithContext) to
// quickdb's master-worker topology: one connection per worker,
// errgroup.WithContext for the fan-out, and live Progress folding
// across every currently-reporting worker (spec §4.7), grounded on
// original_source/quickdb/datarake/master.py's scatter/post_request.
package scatter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"quickdb/internal/planir"
	"quickdb/internal/qerrors"
	"quickdb/internal/sharedvalue"
	"quickdb/internal/wire"
)

// WorkerResult is one worker's terminal contribution to a job: its
// decoded result envelope, ready for the caller's Reduce step. Scatter
// never interprets this payload itself — the agg/nonagg
// reduce-then-finalize semantics live above this layer, the same way
// master.py's scatter takes reducer/finalizer as parameters rather
// than knowing about aggregate internals itself.
type WorkerResult struct {
	Addr   string
	Result sharedvalue.Map
}

// Dialer opens a connection to a worker address. Tests substitute an
// in-memory net.Pipe-backed dialer; production uses net.Dial("tcp", ...).
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Scatter holds the fixed fan-out configuration: the worker address
// list and the shared auth secret every connection authenticates with.
type Scatter struct {
	Addrs  []string
	Secret []byte
	Dial   Dialer
}

// New builds a Scatter with the default TCP dialer.
func New(addrs []string, secret []byte) *Scatter {
	return &Scatter{
		Addrs:  addrs,
		Secret: secret,
		Dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Run dispatches job to every configured worker, folding live Progress
// reports via onProgress (called with the sum of every currently
// reporting worker's {done, total}), and returns every worker's
// terminal contribution once all have reported. A UserError/SqlError
// from any worker fails the whole job immediately with that message,
// per spec §4.7's partial-failure contract; other workers are left to
// the context cancellation errgroup.WithContext propagates.
func (s *Scatter) Run(ctx context.Context, job *planir.CompiledJob, onProgress func(done, total int)) ([]WorkerResult, error) {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	progress := make([]wire.Progress, len(s.Addrs))
	publish := func(i int, p wire.Progress) {
		mu.Lock()
		progress[i] = p
		var done, total int
		for _, pr := range progress {
			done += pr.Done
			total += pr.Total
		}
		mu.Unlock()
		if onProgress != nil {
			onProgress(done, total)
		}
	}

	results := make([]WorkerResult, len(s.Addrs))
	for i, addr := range s.Addrs {
		i, addr := i, addr
		g.Go(func() error {
			res, err := s.runOne(ctx, addr, job, func(p wire.Progress) { publish(i, p) })
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Scatter) runOne(ctx context.Context, addr string, job *planir.CompiledJob, onProgress func(wire.Progress)) (*WorkerResult, error) {
	conn, err := s.Dial(ctx, addr)
	if err != nil {
		return nil, qerrors.NewSystem(addr, fmt.Errorf("dial: %w", err))
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	var wmu sync.Mutex
	writeMsg := func(msg wire.Message) error {
		wmu.Lock()
		defer wmu.Unlock()
		return wire.WriteMessage(w, msg)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = writeMsg(wire.InterruptMessage())
		case <-done:
		}
	}()

	wmu.Lock()
	err = wire.Knock(r, w, s.Secret)
	wmu.Unlock()
	if err != nil {
		return nil, qerrors.NewSystem(addr, fmt.Errorf("auth: %w", err))
	}

	if err := writeMsg(wire.StartMessage(job)); err != nil {
		return nil, qerrors.NewSystem(addr, fmt.Errorf("send job: %w", err))
	}

	for {
		msg, err := wire.ReadMessage(r)
		if err != nil {
			return nil, qerrors.NewSystem(addr, fmt.Errorf("read: %w", err))
		}
		switch msg.Type {
		case wire.MsgProgress:
			if msg.Progress != nil {
				onProgress(*msg.Progress)
			}
		case wire.MsgResult:
			values, err := wire.ReadEnvelope(r)
			if err != nil {
				return nil, qerrors.NewSystem(addr, fmt.Errorf("read result envelope: %w", err))
			}
			return &WorkerResult{Addr: addr, Result: values}, nil
		case wire.MsgUserError:
			return nil, qerrors.NewUser(msg.Reason, map[string]any{"worker": addr})
		case wire.MsgSysError:
			return nil, qerrors.NewSystem(addr, fmt.Errorf("%s", msg.Reason))
		default:
			return nil, qerrors.NewSystem(addr, fmt.Errorf("unexpected message type %q", msg.Type))
		}
	}
}

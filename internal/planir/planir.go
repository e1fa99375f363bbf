// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Plan IR (spec §9 redesign note "replace make_env with a serializable
// plan IR"): the engine never ships source code or closures across the
// wire, unlike make_env.py's exec()-based dispatch. A CompiledJob
// carries the validated SQL text and resolved shared values; a worker
// recompiles it locally against the same fixed expr/query/agg/nonagg
// registries the master used, so the two sides are guaranteed to agree
// on semantics without ever serializing an AST or a closure.
package planir

import (
	"fmt"

	"quickdb/internal/planner/agg"
	"quickdb/internal/qerrors"
	"quickdb/internal/query"
	"quickdb/internal/sharedvalue"
)

// Kind classifies a compiled plan so a worker can dispatch to the
// right planner without re-parsing SQL first.
type Kind string

const (
	AggPlan    Kind = "agg"
	NonAggPlan Kind = "nonagg"
)

// CompiledJob is the unit shipped master -> worker over the wire
// envelope (C8) and cached per-worker by JobID (C6's single-slot
// CompiledJob cache, grounded on worker.py's CachedEvaluate).
type CompiledJob struct {
	JobID     string          `json:"job_id"`
	Rerun     string          `json:"rerun"`
	Kind      Kind            `json:"kind"`
	SQL       string          `json:"sql"`
	Shared    sharedvalue.Map `json:"shared"`
	ChunkSize int             `json:"chunk_size,omitempty"`
}

// Compile validates sql once (master side, to fail fast on bad SQL and
// to learn Rerun/Kind) and returns the CompiledJob to ship.
func Compile(jobID, sql string, shared sharedvalue.Map, chunkSize int) (*CompiledJob, error) {
	sel, err := query.Compile(sql)
	if err != nil {
		return nil, err
	}
	kind := NonAggPlan
	if sel.IsAggregate {
		kind = AggPlan
	}
	return &CompiledJob{
		JobID:     jobID,
		Rerun:     sel.From,
		Kind:      kind,
		SQL:       sql,
		Shared:    shared,
		ChunkSize: chunkSize,
	}, nil
}

// Resolved is a CompiledJob recompiled on the worker side: the
// validated Select plus, for AggPlan jobs, the built execution
// schedule (C5). For non-agg jobs only the Select is resolved; callers
// build the nonagg.Plan from it themselves with nonagg.Build.
type Resolved struct {
	Select *query.Select
	Agg    *agg.Plan // nil for NonAggPlan
}

// Resolve recompiles job.SQL locally and, for an AggPlan job, builds
// its aggregate execution schedule. Workers call this once per job and
// cache the result under JobID (see internal/worker's single-slot
// cache).
func Resolve(job *CompiledJob) (*Resolved, error) {
	sel, err := query.Compile(job.SQL)
	if err != nil {
		return nil, err
	}
	if sel.From != job.Rerun {
		return nil, qerrors.NewSystem("worker", fmt.Errorf("recompiled rerun %q does not match shipped rerun %q", sel.From, job.Rerun))
	}

	r := &Resolved{Select: sel}
	if sel.IsAggregate {
		plan, err := agg.Build(sel)
		if err != nil {
			return nil, err
		}
		r.Agg = plan
	}
	return r, nil
}

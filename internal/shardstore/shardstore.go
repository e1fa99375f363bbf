// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Shard store interface (C10): the minimal contract the engine consumes
// from the external catalog layer. The on-disk layout and readers
// themselves are out of scope (spec §1); grounded on
// sspcatalog/patch.py's Patch/SlicedPatch/nans fill-vector convention.

package shardstore

import (
	"fmt"
	"math"
	"strings"

	"quickdb/internal/qerrors"
)

// Vector is the engine's column value carrier: exactly one of the
// slices is populated, matching the column's declared Kind.
type Vector struct {
	Kind    VectorKind
	Floats  []float64
	Ints    []int64
	Bools   []bool
	Strings []string
}

type VectorKind string

const (
	KindFloat  VectorKind = "float"
	KindInt    VectorKind = "int"
	KindBool   VectorKind = "bool"
	KindString VectorKind = "string"
)

// Len reports the vector's length regardless of its kind.
func (v Vector) Len() int {
	switch v.Kind {
	case KindFloat:
		return len(v.Floats)
	case KindInt:
		return len(v.Ints)
	case KindBool:
		return len(v.Bools)
	case KindString:
		return len(v.Strings)
	default:
		return 0
	}
}

// Fill builds a length-n fill-vector for a missing optional column:
// NaN for floats, -1 for signed integers, true for booleans — the
// exact convention of patch.py's nans().
func Fill(kind VectorKind, n int) Vector {
	switch kind {
	case KindFloat:
		fs := make([]float64, n)
		for i := range fs {
			fs[i] = math.NaN()
		}
		return Vector{Kind: KindFloat, Floats: fs}
	case KindInt:
		is := make([]int64, n)
		for i := range is {
			is[i] = -1
		}
		return Vector{Kind: KindInt, Ints: is}
	case KindBool:
		bs := make([]bool, n)
		for i := range bs {
			bs[i] = true
		}
		return Vector{Kind: KindBool, Bools: bs}
	default:
		return Vector{Kind: kind, Strings: make([]string, n)}
	}
}

// ColumnNotFoundError names the offending column path, matching
// patch.py's ColumnNotFoundError.
type ColumnNotFoundError struct {
	Path []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("no such column: %s", strings.Join(e.Path, "."))
}

func (e *ColumnNotFoundError) AsUserError() *qerrors.QuickDBError {
	return qerrors.NewUser(e.Error(), map[string]any{"path": e.Path})
}

// Shard is an opaque per-patch handle. Column paths are 1-3 component
// tuples; unknown columns fail with ColumnNotFoundError; missing
// optional columns yield fill-vectors of the shard's length. The
// engine never mutates a Shard.
type Shard interface {
	Size() int
	Column(path []string) (Vector, error)
	// Slice returns a fresh Shard restricted to the given indices (or
	// all indices where mask is true, if maskOrIndices is a bool
	// slice). Slicing composes: Slice(Slice(s, a), b) == Slice(s, a[b]).
	Slice(maskOrIndices any) (Shard, error)
}

// Store is the ordered-shard-list contract: list_shards(rerun) in
// spec §4.10, stable across a single run.
type Store interface {
	ListShards(rerun string) ([]Shard, error)
}

// ResolveIndices normalizes a bool mask or an []int index slice into a
// plain []int, the way Patch.__getitem__ does for its `where` argument.
func ResolveIndices(maskOrIndices any, size int) ([]int, error) {
	switch m := maskOrIndices.(type) {
	case []bool:
		if len(m) != size {
			return nil, fmt.Errorf("mask length %d does not match shard size %d", len(m), size)
		}
		out := make([]int, 0, len(m))
		for i, b := range m {
			if b {
				out = append(out, i)
			}
		}
		return out, nil
	case []int:
		for _, idx := range m {
			if idx < 0 || idx >= size {
				return nil, fmt.Errorf("index %d out of range [0,%d)", idx, size)
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported slice selector type %T", maskOrIndices)
	}
}

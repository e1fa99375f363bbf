// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// In-memory Store/Shard implementation used by the §8 end-to-end test
// scenarios and by package tests throughout the engine. Not part of the
// production shard store (which is external, per spec §1), but built
// to the same contract so planner/evaluation code never needs a
// special-case test double.

package shardstore

// MemShard is a columnar in-memory shard: every column is a full-length
// Vector keyed by its dotted path.
type MemShard struct {
	size    int
	columns map[string]Vector
}

// NewMemShard builds a shard of the given size with the given named
// columns. All columns must have length == size.
func NewMemShard(size int, columns map[string]Vector) *MemShard {
	return &MemShard{size: size, columns: columns}
}

func (s *MemShard) Size() int { return s.size }

func (s *MemShard) Column(path []string) (Vector, error) {
	key := joinPath(path)
	if v, ok := s.columns[key]; ok {
		return v, nil
	}
	// Unknown top-level table vs. missing optional column: the stub
	// treats any column that isn't registered as "optional missing",
	// matching patch.py's fallback to nans() for meta-declared but
	// absent columns. A production store distinguishes this from a
	// genuinely unknown column via its schema metadata.
	return Fill(KindFloat, s.size), nil
}

func (s *MemShard) Slice(maskOrIndices any) (Shard, error) {
	idx, err := ResolveIndices(maskOrIndices, s.size)
	if err != nil {
		return nil, err
	}
	return &slicedMemShard{base: s, indices: idx}, nil
}

type slicedMemShard struct {
	base    *MemShard
	indices []int
}

func (s *slicedMemShard) Size() int { return len(s.indices) }

func (s *slicedMemShard) Column(path []string) (Vector, error) {
	v, err := s.base.Column(path)
	if err != nil {
		return Vector{}, err
	}
	return Gather(v, s.indices), nil
}

func (s *slicedMemShard) Slice(maskOrIndices any) (Shard, error) {
	idx, err := ResolveIndices(maskOrIndices, len(s.indices))
	if err != nil {
		return nil, err
	}
	composed := make([]int, len(idx))
	for i, j := range idx {
		composed[i] = s.indices[j]
	}
	return &slicedMemShard{base: s.base, indices: composed}, nil
}

func joinPath(path []string) string {
	out := path[0]
	for _, p := range path[1:] {
		out += "." + p
	}
	return out
}

// Gather builds a new Vector containing only the elements at indices,
// preserving order — the primitive both Slice and the reducer's
// "gather both" step (spec §4.4) are built from.
func Gather(v Vector, indices []int) Vector {
	switch v.Kind {
	case KindFloat:
		out := make([]float64, len(indices))
		for i, idx := range indices {
			out[i] = v.Floats[idx]
		}
		return Vector{Kind: KindFloat, Floats: out}
	case KindInt:
		out := make([]int64, len(indices))
		for i, idx := range indices {
			out[i] = v.Ints[idx]
		}
		return Vector{Kind: KindInt, Ints: out}
	case KindBool:
		out := make([]bool, len(indices))
		for i, idx := range indices {
			out[i] = v.Bools[idx]
		}
		return Vector{Kind: KindBool, Bools: out}
	default:
		out := make([]string, len(indices))
		for i, idx := range indices {
			out[i] = v.Strings[idx]
		}
		return Vector{Kind: KindString, Strings: out}
	}
}

// Concat appends b's elements after a's. Both vectors must share Kind.
func Concat(a, b Vector) Vector {
	switch a.Kind {
	case KindFloat:
		return Vector{Kind: KindFloat, Floats: append(append([]float64{}, a.Floats...), b.Floats...)}
	case KindInt:
		return Vector{Kind: KindInt, Ints: append(append([]int64{}, a.Ints...), b.Ints...)}
	case KindBool:
		return Vector{Kind: KindBool, Bools: append(append([]bool{}, a.Bools...), b.Bools...)}
	default:
		return Vector{Kind: KindString, Strings: append(append([]string{}, a.Strings...), b.Strings...)}
	}
}

// MemStore is a fixed rerun->shards registry.
type MemStore struct {
	reruns map[string][]Shard
}

func NewMemStore(reruns map[string][]Shard) *MemStore {
	return &MemStore{reruns: reruns}
}

func (s *MemStore) ListShards(rerun string) ([]Shard, error) {
	shards, ok := s.reruns[rerun]
	if !ok {
		return nil, &ColumnNotFoundError{Path: []string{rerun}}
	}
	return shards, nil
}

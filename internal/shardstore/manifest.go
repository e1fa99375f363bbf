// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// LoadManifest is a stand-in for the production on-disk catalog reader
// that spec §1 explicitly places out of scope ("the columnar on-disk
// catalog layout and its readers ... treated as an external 'shard
// store'"). It lets quickdb-worker start from a plain JSON description
// of its shards instead of requiring a real catalog reader to exist.
// Swap this out for a real Store implementation to serve production
// data; nothing above this package's interface needs to change.

package shardstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type manifestFile struct {
	Reruns map[string][]manifestShard `json:"reruns"`
}

type manifestShard struct {
	Size    int                       `json:"size"`
	Columns map[string]manifestColumn `json:"columns"`
}

type manifestColumn struct {
	Kind   VectorKind `json:"kind"`
	Floats []float64  `json:"floats,omitempty"`
	Ints   []int64    `json:"ints,omitempty"`
	Bools  []bool     `json:"bools,omitempty"`
	Values []string   `json:"values,omitempty"`
}

func (c manifestColumn) toVector() (Vector, error) {
	switch c.Kind {
	case KindFloat:
		return Vector{Kind: KindFloat, Floats: c.Floats}, nil
	case KindInt:
		return Vector{Kind: KindInt, Ints: c.Ints}, nil
	case KindBool:
		return Vector{Kind: KindBool, Bools: c.Bools}, nil
	case KindString:
		return Vector{Kind: KindString, Strings: c.Values}, nil
	default:
		return Vector{}, fmt.Errorf("shardstore: manifest column has unknown kind %q", c.Kind)
	}
}

// LoadManifest reads dataDir/manifest.json and builds a MemStore from
// it. The manifest lists, per rerun name, the shards served for it —
// each shard a fixed size plus its named columns.
func LoadManifest(dataDir string) (*MemStore, error) {
	path := filepath.Join(dataDir, "manifest.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shardstore: reading manifest %s: %w", path, err)
	}
	var mf manifestFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("shardstore: parsing manifest %s: %w", path, err)
	}

	reruns := make(map[string][]Shard, len(mf.Reruns))
	for rerun, shards := range mf.Reruns {
		built := make([]Shard, 0, len(shards))
		for _, ms := range shards {
			columns := make(map[string]Vector, len(ms.Columns))
			for name, col := range ms.Columns {
				v, err := col.toVector()
				if err != nil {
					return nil, fmt.Errorf("shardstore: manifest %s, rerun %q: %w", path, rerun, err)
				}
				columns[name] = v
			}
			built = append(built, NewMemShard(ms.Size, columns))
		}
		reruns[rerun] = built
	}
	return NewMemStore(reruns), nil
}

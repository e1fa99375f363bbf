// Grounded on agg.py's PickOneAggCall: wraps a target-list expression
// that is not itself an aggregate call but still depends on per-row
// column data (e.g. GROUP BY object_id % 2's target), asserting it is
// constant across every row of its group.

package agg

import (
	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
	"quickdb/internal/shardstore"
)

type pickOneAgg struct {
	target expr.Expression
}

func newPickOne(target expr.Expression) *pickOneAgg {
	return &pickOneAgg{target: target}
}

func (p *pickOneAgg) SubAggregates() []AggCall { return nil }

type pickOneState struct {
	value expr.Value
	valid bool
}

func (p *pickOneAgg) Mapper(ctx *evalctx.Context) (State, error) {
	if ctx.Shard.Size() == 0 {
		return pickOneState{}, nil
	}
	v, err := p.target.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	vec, ok := v.(shardstore.Vector)
	if !ok {
		return pickOneState{value: v, valid: true}, nil
	}
	return p.checkConstantVector(vec)
}

func (p *pickOneAgg) checkConstantVector(vec shardstore.Vector) (State, error) {
	n := vec.Len()
	if n == 0 {
		return pickOneState{}, nil
	}
	xs := toFloatSlice(vec)
	if xs != nil {
		first := xs[0]
		for _, x := range xs[1:] {
			if x != first {
				return nil, qerrors.NewUser("GROUP BY target column is not constant within its group", nil)
			}
		}
		return pickOneState{value: first, valid: true}, nil
	}
	switch vec.Kind {
	case shardstore.KindBool:
		first := vec.Bools[0]
		for _, b := range vec.Bools[1:] {
			if b != first {
				return nil, qerrors.NewUser("GROUP BY target column is not constant within its group", nil)
			}
		}
		return pickOneState{value: first, valid: true}, nil
	case shardstore.KindString:
		first := vec.Strings[0]
		for _, s := range vec.Strings[1:] {
			if s != first {
				return nil, qerrors.NewUser("GROUP BY target column is not constant within its group", nil)
			}
		}
		return pickOneState{value: first, valid: true}, nil
	default:
		return pickOneState{}, nil
	}
}

func (p *pickOneAgg) Reducer(a, b State) (State, error) {
	as, bs := a.(pickOneState), b.(pickOneState)
	if !as.valid {
		return bs, nil
	}
	if !bs.valid {
		return as, nil
	}
	if as.value != bs.value {
		return nil, qerrors.NewUser("GROUP BY target column is not constant within its group", nil)
	}
	return as, nil
}

func (p *pickOneAgg) Finalizer(a State) (expr.Value, error) {
	s := a.(pickOneState)
	if !s.valid {
		return nil, nil
	}
	return s.value, nil
}

// MergeFinal asserts the invariant PickOne already enforces within one
// worker — the value must be identical across every row of a group —
// now across two workers' views of the same group.
func (p *pickOneAgg) MergeFinal(a, b expr.Value) (expr.Value, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	if a != b {
		return nil, qerrors.NewUser("GROUP BY target column is not constant within its group", nil)
	}
	return a, nil
}

// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Resultwire packs agg.Result / non-aggregate target rows into the
// sharedvalue.Map shape the wire envelope (C8) already transports,
// and unpacks them back into the same expr.Value types the local
// planners produce. Grounded on sqlhttp/jsonnpy.py's dump/load, which
// serializes whatever Python object the planner returns (dict, list,
// tuple, numpy array) through one generic JSON+array-archive codec;
// Go has no dynamic-object JSON encoding that survives a round trip
// back into the concrete Go types AggCall.Finalizer returns (MinMax,
// Histogram, CrossMatch, …), so each encoded value carries an explicit
// type tag as its first list element instead of relying on structural
// inference the way the Python encoder could.
package resultwire

import (
	"fmt"

	"quickdb/internal/expr"
	"quickdb/internal/planner/agg"
	"quickdb/internal/planner/nonagg"
	"quickdb/internal/qerrors"
	"quickdb/internal/shardstore"
	"quickdb/internal/sharedvalue"
)

func tagged(tag string, payload ...sharedvalue.Value) sharedvalue.Value {
	list := append([]sharedvalue.Value{sharedvalue.ScalarOf(tag)}, payload...)
	return sharedvalue.ListOf(list...)
}

// EncodeValue packs one target-list cell into a tagged sharedvalue.Value.
func EncodeValue(v expr.Value) sharedvalue.Value {
	switch x := v.(type) {
	case nil:
		return tagged("null")
	case int64:
		return tagged("i64", sharedvalue.ScalarOf(float64(x)))
	case float64:
		return tagged("f64", sharedvalue.ScalarOf(x))
	case bool:
		return tagged("bool", sharedvalue.ScalarOf(x))
	case string:
		return tagged("str", sharedvalue.ScalarOf(x))
	case shardstore.Vector:
		return encodeVector(x)
	case agg.MinMaxValue:
		return tagged("minmax", sharedvalue.ScalarOf(x.Min), sharedvalue.ScalarOf(x.Max))
	case agg.HistogramResult:
		counts := make([]float64, len(x.Counts))
		for i, c := range x.Counts {
			counts[i] = float64(c)
		}
		return tagged("hist",
			sharedvalue.ArrayOf(sharedvalue.DTypeFloat64, []int{len(counts)}, counts),
			sharedvalue.ScalarOf(x.Lo), sharedvalue.ScalarOf(x.Hi))
	case agg.Histogram2DResult:
		nx := len(x.Counts)
		ny := 0
		if nx > 0 {
			ny = len(x.Counts[0])
		}
		flat := make([]float64, 0, nx*ny)
		for _, row := range x.Counts {
			for _, c := range row {
				flat = append(flat, float64(c))
			}
		}
		return tagged("hist2d",
			sharedvalue.ArrayOf(sharedvalue.DTypeFloat64, []int{nx, ny}, flat),
			sharedvalue.ScalarOf(x.XLo), sharedvalue.ScalarOf(x.XHi),
			sharedvalue.ScalarOf(x.YLo), sharedvalue.ScalarOf(x.YHi))
	case agg.CrossMatchResult:
		is := make([]float64, len(x.Pairs))
		js := make([]float64, len(x.Pairs))
		seps := make([]float64, len(x.Pairs))
		for i, p := range x.Pairs {
			is[i] = float64(p.I)
			js[i] = float64(p.J)
			seps[i] = p.SepArcsec
		}
		n := len(x.Pairs)
		return tagged("xmatch",
			sharedvalue.ArrayOf(sharedvalue.DTypeFloat64, []int{n}, is),
			sharedvalue.ArrayOf(sharedvalue.DTypeFloat64, []int{n}, js),
			sharedvalue.ArrayOf(sharedvalue.DTypeFloat64, []int{n}, seps))
	default:
		return tagged("str", sharedvalue.ScalarOf(fmt.Sprintf("%v", x)))
	}
}

func encodeVector(v shardstore.Vector) sharedvalue.Value {
	switch v.Kind {
	case shardstore.KindFloat:
		return tagged("vecf", sharedvalue.ArrayOf(sharedvalue.DTypeFloat64, []int{len(v.Floats)}, v.Floats))
	case shardstore.KindInt:
		fs := make([]float64, len(v.Ints))
		for i, n := range v.Ints {
			fs[i] = float64(n)
		}
		return tagged("veci", sharedvalue.ArrayOf(sharedvalue.DTypeInt64, []int{len(v.Ints)}, fs))
	case shardstore.KindBool:
		items := make([]sharedvalue.Value, len(v.Bools))
		for i, b := range v.Bools {
			items[i] = sharedvalue.ScalarOf(b)
		}
		return tagged("vecb", sharedvalue.ListOf(items...))
	default:
		items := make([]sharedvalue.Value, len(v.Strings))
		for i, s := range v.Strings {
			items[i] = sharedvalue.ScalarOf(s)
		}
		return tagged("vecs", sharedvalue.ListOf(items...))
	}
}

// DecodeValue is EncodeValue's inverse.
func DecodeValue(v sharedvalue.Value) (expr.Value, error) {
	if v.Kind != sharedvalue.KindList || len(v.List) == 0 {
		return nil, qerrors.NewSystem("resultwire", fmt.Errorf("malformed encoded value: %+v", v))
	}
	tag, err := v.List[0].AsString()
	if err != nil {
		return nil, qerrors.NewSystem("resultwire", fmt.Errorf("reading value tag: %w", err))
	}
	rest := v.List[1:]
	switch tag {
	case "null":
		return nil, nil
	case "i64":
		f, err := rest[0].AsFloat64()
		if err != nil {
			return nil, err
		}
		return int64(f), nil
	case "f64":
		return rest[0].AsFloat64()
	case "bool":
		b, ok := rest[0].Scalar.(bool)
		if !ok {
			return nil, qerrors.NewSystem("resultwire", fmt.Errorf("expected bool scalar, got %T", rest[0].Scalar))
		}
		return b, nil
	case "str":
		return rest[0].AsString()
	case "vecf", "veci", "vecb", "vecs":
		return decodeVector(tag, rest)
	case "minmax":
		lo, err := rest[0].AsFloat64()
		if err != nil {
			return nil, err
		}
		hi, err := rest[1].AsFloat64()
		if err != nil {
			return nil, err
		}
		return agg.MinMaxValue{Min: lo, Max: hi}, nil
	case "hist":
		counts := toInt64Slice(rest[0].Data)
		lo, _ := rest[1].AsFloat64()
		hi, _ := rest[2].AsFloat64()
		return agg.HistogramResult{Counts: counts, Lo: lo, Hi: hi}, nil
	case "hist2d":
		shape := rest[0].Shape
		if len(shape) != 2 {
			return nil, qerrors.NewSystem("resultwire", fmt.Errorf("hist2d array missing 2D shape"))
		}
		nx, ny := shape[0], shape[1]
		counts := make([][]int64, nx)
		flat := rest[0].Data
		for i := 0; i < nx; i++ {
			counts[i] = toInt64Slice(flat[i*ny : (i+1)*ny])
		}
		xlo, _ := rest[1].AsFloat64()
		xhi, _ := rest[2].AsFloat64()
		ylo, _ := rest[3].AsFloat64()
		yhi, _ := rest[4].AsFloat64()
		return agg.Histogram2DResult{Counts: counts, XLo: xlo, XHi: xhi, YLo: ylo, YHi: yhi}, nil
	case "xmatch":
		is, js, seps := rest[0].Data, rest[1].Data, rest[2].Data
		pairs := make([]agg.CrossMatchPair, len(is))
		for i := range is {
			pairs[i] = agg.CrossMatchPair{I: int(is[i]), J: int(js[i]), SepArcsec: seps[i]}
		}
		return agg.CrossMatchResult{Pairs: pairs}, nil
	default:
		return nil, qerrors.NewSystem("resultwire", fmt.Errorf("unknown encoded value tag %q", tag))
	}
}

func decodeVector(tag string, rest []sharedvalue.Value) (expr.Value, error) {
	switch tag {
	case "vecf":
		return shardstore.Vector{Kind: shardstore.KindFloat, Floats: append([]float64{}, rest[0].Data...)}, nil
	case "veci":
		return shardstore.Vector{Kind: shardstore.KindInt, Ints: toInt64Slice(rest[0].Data)}, nil
	case "vecb":
		bs := make([]bool, len(rest[0].List))
		for i, item := range rest[0].List {
			b, _ := item.Scalar.(bool)
			bs[i] = b
		}
		return shardstore.Vector{Kind: shardstore.KindBool, Bools: bs}, nil
	default:
		ss := make([]string, len(rest[0].List))
		for i, item := range rest[0].List {
			s, _ := item.AsString()
			ss[i] = s
		}
		return shardstore.Vector{Kind: shardstore.KindString, Strings: ss}, nil
	}
}

func toInt64Slice(fs []float64) []int64 {
	out := make([]int64, len(fs))
	for i, f := range fs {
		out[i] = int64(f)
	}
	return out
}

// EncodeAggResult packs an aggregate Result into a sharedvalue.Map.
func EncodeAggResult(res *agg.Result) sharedvalue.Map {
	names := make([]sharedvalue.Value, len(res.Names))
	for i, n := range res.Names {
		names[i] = sharedvalue.ScalarOf(n)
	}
	keys := make([]sharedvalue.Value, len(res.GroupKeys))
	for i, k := range res.GroupKeys {
		keys[i] = sharedvalue.ScalarOf(k)
	}
	rows := make([]sharedvalue.Value, len(res.Rows))
	for i, row := range res.Rows {
		cols := make([]sharedvalue.Value, len(row))
		for j, v := range row {
			cols[j] = EncodeValue(v)
		}
		rows[i] = sharedvalue.ListOf(cols...)
	}
	return sharedvalue.Map{
		"names":      sharedvalue.ListOf(names...),
		"group_keys": sharedvalue.ListOf(keys...),
		"rows":       sharedvalue.ListOf(rows...),
	}
}

// DecodeAggResult is EncodeAggResult's inverse.
func DecodeAggResult(m sharedvalue.Map) (*agg.Result, error) {
	names, err := decodeStrings(m["names"])
	if err != nil {
		return nil, err
	}
	keys, err := decodeStrings(m["group_keys"])
	if err != nil {
		return nil, err
	}
	rowsVal, ok := m["rows"]
	if !ok || rowsVal.Kind != sharedvalue.KindList {
		return nil, qerrors.NewSystem("resultwire", fmt.Errorf("missing or malformed rows"))
	}
	rows := make([][]expr.Value, len(rowsVal.List))
	for i, rv := range rowsVal.List {
		if rv.Kind != sharedvalue.KindList {
			return nil, qerrors.NewSystem("resultwire", fmt.Errorf("row %d is not a list", i))
		}
		cols := make([]expr.Value, len(rv.List))
		for j, cv := range rv.List {
			v, err := DecodeValue(cv)
			if err != nil {
				return nil, err
			}
			cols[j] = v
		}
		rows[i] = cols
	}
	return &agg.Result{Names: names, GroupKeys: keys, Rows: rows}, nil
}

func decodeStrings(v sharedvalue.Value) ([]string, error) {
	if v.Kind != sharedvalue.KindList {
		return nil, qerrors.NewSystem("resultwire", fmt.Errorf("expected a list, got kind=%s", v.Kind))
	}
	out := make([]string, len(v.List))
	for i, item := range v.List {
		s, err := item.AsString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// EncodeNonAggRows packs non-aggregate target columns (each a
// shardstore.Vector) into a sharedvalue.Map.
func EncodeNonAggRows(names []string, targets []expr.Value) sharedvalue.Map {
	nameVals := make([]sharedvalue.Value, len(names))
	for i, n := range names {
		nameVals[i] = sharedvalue.ScalarOf(n)
	}
	colVals := make([]sharedvalue.Value, len(targets))
	for i, v := range targets {
		colVals[i] = EncodeValue(v)
	}
	return sharedvalue.Map{
		"names":   sharedvalue.ListOf(nameVals...),
		"targets": sharedvalue.ListOf(colVals...),
	}
}

// DecodeNonAggRows is EncodeNonAggRows's inverse.
func DecodeNonAggRows(m sharedvalue.Map) (names []string, targets []expr.Value, err error) {
	names, err = decodeStrings(m["names"])
	if err != nil {
		return nil, nil, err
	}
	targetsVal, ok := m["targets"]
	if !ok || targetsVal.Kind != sharedvalue.KindList {
		return nil, nil, qerrors.NewSystem("resultwire", fmt.Errorf("missing or malformed targets"))
	}
	targets = make([]expr.Value, len(targetsVal.List))
	for i, cv := range targetsVal.List {
		v, err := DecodeValue(cv)
		if err != nil {
			return nil, nil, err
		}
		targets[i] = v
	}
	return names, targets, nil
}

// EncodeMapperResult packs a worker's un-finalized non-aggregate
// accumulator (target columns plus sort keys, when ORDER BY is
// present) into a sharedvalue.Map. Unlike EncodeNonAggRows, this
// carries no column names and its LIMIT truncation covers only this
// worker's own shards — the master decodes one of these per worker, folds them pairwise with
// nonagg.Plan.Reducer, and finalizes once (spec §4.7).
func EncodeMapperResult(res *nonagg.MapperResult) sharedvalue.Map {
	targets := make([]sharedvalue.Value, len(res.Targets))
	for i, v := range res.Targets {
		targets[i] = EncodeValue(v)
	}
	m := sharedvalue.Map{
		"targets":  sharedvalue.ListOf(targets...),
		"has_sort": sharedvalue.ScalarOf(res.HasSort),
	}
	if res.HasSort {
		keys := make([]sharedvalue.Value, len(res.SortKeys))
		for i, v := range res.SortKeys {
			keys[i] = EncodeValue(v)
		}
		m["sort_keys"] = sharedvalue.ListOf(keys...)
	}
	return m
}

// DecodeMapperResult is EncodeMapperResult's inverse.
func DecodeMapperResult(m sharedvalue.Map) (*nonagg.MapperResult, error) {
	targetsVal, ok := m["targets"]
	if !ok || targetsVal.Kind != sharedvalue.KindList {
		return nil, qerrors.NewSystem("resultwire", fmt.Errorf("missing or malformed targets"))
	}
	targets := make([]expr.Value, len(targetsVal.List))
	for i, cv := range targetsVal.List {
		v, err := DecodeValue(cv)
		if err != nil {
			return nil, err
		}
		targets[i] = v
	}
	res := &nonagg.MapperResult{Targets: targets}
	if hasSort, _ := m["has_sort"].Scalar.(bool); hasSort {
		res.HasSort = true
		keysVal, ok := m["sort_keys"]
		if !ok || keysVal.Kind != sharedvalue.KindList {
			return nil, qerrors.NewSystem("resultwire", fmt.Errorf("missing or malformed sort_keys"))
		}
		keys := make([]expr.Value, len(keysVal.List))
		for i, cv := range keysVal.List {
			v, err := DecodeValue(cv)
			if err != nil {
				return nil, err
			}
			keys[i] = v
		}
		res.SortKeys = keys
	}
	return res, nil
}

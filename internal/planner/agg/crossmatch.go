// Grounded on agg_functions/crossmatch.py's CrossMatchAggCall: matches
// two RA/Dec catalogs within an angular radius via a brute-force
// pairwise search over unit-sphere XYZ coordinates. The example pack
// carries no spatial-index library (k-D tree / ball tree), so this is
// one of the few components built on the standard library alone; see
// DESIGN.md for the justification.

package agg

import (
	"math"

	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
)

type crossMatchAgg struct {
	ra1, dec1, ra2, dec2 expr.Expression
	radiusArcsec         expr.Expression
}

func newCrossMatch(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	if star || len(positional) != 4 {
		return nil, argError("crossmatch", "crossmatch() accepts exactly four positional arguments: ra1, dec1, ra2, dec2")
	}
	c := &crossMatchAgg{ra1: positional[0], dec1: positional[1], ra2: positional[2], dec2: positional[3]}
	if r, ok := named["radius"]; ok {
		c.radiusArcsec = r
		delete(named, "radius")
	}
	if len(named) != 0 {
		return nil, argError("crossmatch", "unknown named argument for crossmatch()")
	}
	return c, nil
}

func (c *crossMatchAgg) SubAggregates() []AggCall { return nil }

type xyz struct{ x, y, z float64 }

func raDecToXYZ(raDeg, decDeg float64) xyz {
	ra := raDeg * math.Pi / 180
	dec := decDeg * math.Pi / 180
	return xyz{
		x: math.Cos(dec) * math.Cos(ra),
		y: math.Cos(dec) * math.Sin(ra),
		z: math.Sin(dec),
	}
}

type CrossMatchPair struct {
	I, J int
	SepArcsec float64
}

type crossMatchState struct {
	pairs []CrossMatchPair
}

const defaultCrossMatchRadiusArcsec = 1.0

func (c *crossMatchAgg) Mapper(ctx *evalctx.Context) (State, error) {
	ra1v, err := evalVector(c.ra1, ctx)
	if err != nil {
		return nil, err
	}
	dec1v, err := evalVector(c.dec1, ctx)
	if err != nil {
		return nil, err
	}
	ra2v, err := evalVector(c.ra2, ctx)
	if err != nil {
		return nil, err
	}
	dec2v, err := evalVector(c.dec2, ctx)
	if err != nil {
		return nil, err
	}
	radiusArcsec := defaultCrossMatchRadiusArcsec
	if c.radiusArcsec != nil {
		v, err := c.radiusArcsec.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, qerrors.NewSQL("", "crossmatch radius must be numeric")
		}
		radiusArcsec = f
	}

	ra1, dec1 := toFloatSlice(ra1v), toFloatSlice(dec1v)
	ra2, dec2 := toFloatSlice(ra2v), toFloatSlice(dec2v)
	if len(ra1) != len(dec1) || len(ra2) != len(dec2) {
		return nil, qerrors.NewSQL("", "crossmatch: ra/dec column pairs must have matching lengths")
	}

	pts1 := make([]xyz, len(ra1))
	for i := range ra1 {
		pts1[i] = raDecToXYZ(ra1[i], dec1[i])
	}
	pts2 := make([]xyz, len(ra2))
	for j := range ra2 {
		pts2[j] = raDecToXYZ(ra2[j], dec2[j])
	}

	radiusRad := radiusArcsec * math.Pi / 180 / 3600
	chordLimit := 2 * math.Sin(radiusRad/2)
	chordLimitSq := chordLimit * chordLimit

	var pairs []CrossMatchPair
	for i, p := range pts1 {
		for j, q := range pts2 {
			dx, dy, dz := p.x-q.x, p.y-q.y, p.z-q.z
			distSq := dx*dx + dy*dy + dz*dz
			if distSq > chordLimitSq {
				continue
			}
			chord := math.Sqrt(distSq)
			sep := 2 * math.Asin(math.Min(1, chord/2))
			pairs = append(pairs, CrossMatchPair{I: i, J: j, SepArcsec: sep * 180 / math.Pi * 3600})
		}
	}
	return crossMatchState{pairs: pairs}, nil
}

func (c *crossMatchAgg) Reducer(a, b State) (State, error) {
	as, bs := a.(crossMatchState), b.(crossMatchState)
	return crossMatchState{pairs: append(append([]CrossMatchPair{}, as.pairs...), bs.pairs...)}, nil
}

func (c *crossMatchAgg) Finalizer(a State) (expr.Value, error) {
	s := a.(crossMatchState)
	return CrossMatchResult{Pairs: s.pairs}, nil
}

// CrossMatchResult is the SQL-visible result of CROSSMATCH(...): the
// list of (i, j) index pairs within the requested angular radius,
// along with each pair's separation in arcseconds.
type CrossMatchResult struct {
	Pairs []CrossMatchPair
}

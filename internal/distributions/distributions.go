// Package distributions generates random variates for the families a
// queueing-network model can use to drive interarrival times, service
// times, routing decisions, and batch sizes.
package distributions

import (
	"context"
	"math"

	slerrors "github.com/R3E-Network/desengine/internal/errors"
	"github.com/R3E-Network/desengine/internal/logging"
	"github.com/R3E-Network/desengine/internal/rng"
)

// Family is the closed set of supported distribution tags.
type Family string

const (
	Constant           Family = "constant"
	Uniform            Family = "uniform"
	Triangular         Family = "triangular"
	Exponential        Family = "exponential"
	Normal             Family = "normal"
	LogNormal          Family = "lognormal"
	Gamma              Family = "gamma"
	Erlang             Family = "erlang"
	Weibull            Family = "weibull"
	Beta               Family = "beta"
	Pearson5           Family = "pearson5"
	Pearson6           Family = "pearson6"
	JohnsonSB          Family = "johnsonsb"
	JohnsonSU          Family = "johnsonsu"
	LogLogistic        Family = "loglogistic"
	Discrete           Family = "discrete"
	Empirical          Family = "empirical"
	Poisson            Family = "poisson"
	Binomial           Family = "binomial"
	Geometric          Family = "geometric"
	NegativeBinomial   Family = "negativebinomial"
	TruncatedNormal    Family = "truncatednormal"
	TruncatedExponential Family = "truncatedexponential"
)

// durationEpsilon is the minimum non-negative value a clamped duration
// sample is allowed to take.
const durationEpsilon = 1e-9

// Descriptor is a tagged distribution plus its parameter map, the wire
// shape used inside step sequences and arrival patterns.
type Descriptor struct {
	Type       Family
	Parameters map[string]float64
}

// Pair is a (value, cumulative probability) point used by the empirical
// family.
type Pair struct {
	Value    float64
	CumProb  float64
}

// DiscreteOutcome is a (value, probability) point used by the discrete
// family.
type DiscreteOutcome struct {
	Value       float64
	Probability float64
}

func (d Descriptor) param(name string, fallback float64) float64 {
	if v, ok := d.Parameters[name]; ok {
		return v
	}
	return fallback
}

// Validate checks a descriptor's parameters for the invariants spec.md
// §4.2/§7 require, without sampling. Called at configuration time.
func Validate(d Descriptor) error {
	switch d.Type {
	case Uniform:
		if d.param("min", 0) > d.param("max", 0) {
			return slerrors.InvalidDistributionParams(string(d.Type), "min must be <= max")
		}
	case Triangular:
		min, mode, max := d.param("min", 0), d.param("mode", 0), d.param("max", 0)
		if !(min <= mode && mode <= max) {
			return slerrors.InvalidDistributionParams(string(d.Type), "mode must lie within [min, max]")
		}
	case Exponential:
		if d.param("rate", 0) <= 0 && d.param("mean", 0) <= 0 {
			return slerrors.InvalidDistributionParams(string(d.Type), "rate (or mean) must be positive")
		}
	case Normal, LogNormal:
		if d.param("stdDev", d.param("logStd", 0)) < 0 {
			return slerrors.InvalidDistributionParams(string(d.Type), "stdDev must be non-negative")
		}
	case Gamma:
		if d.param("shape", 0) <= 0 || d.param("scale", 0) <= 0 {
			return slerrors.InvalidDistributionParams(string(d.Type), "shape and scale must be positive")
		}
	case Erlang:
		if d.param("k", 0) < 1 || d.param("rate", 0) <= 0 {
			return slerrors.InvalidDistributionParams(string(d.Type), "k must be >= 1 and rate positive")
		}
	case Weibull:
		if d.param("scale", 0) <= 0 || d.param("shape", 0) <= 0 {
			return slerrors.InvalidDistributionParams(string(d.Type), "scale and shape must be positive")
		}
	}
	return nil
}

// ValidateDiscrete checks that outcome probabilities sum to 1 within
// tolerance, per spec.md §4.2.
func ValidateDiscrete(outcomes []DiscreteOutcome) error {
	sum := 0.0
	for _, o := range outcomes {
		sum += o.Probability
	}
	if math.Abs(sum-1.0) > 1e-3 {
		return slerrors.InvalidDistributionParams(string(Discrete), "probabilities must sum to 1 +/- 1e-3")
	}
	return nil
}

// Sample draws one variate from the descriptor's family using the given
// RNG stream. Durations are clamped to be non-negative. Unknown
// families log a runtime warning and return 1.
func Sample(d Descriptor, s *rng.Stream) float64 {
	switch d.Type {
	case Constant:
		return d.param("value", 0)
	case Uniform:
		min, max := d.param("min", 0), d.param("max", 1)
		return min + s.Next()*(max-min)
	case Triangular:
		return sampleTriangular(d, s)
	case Exponential:
		return clampNonNegative(sampleExponential(rateOrMean(d), s))
	case Normal:
		return clampNonNegative(sampleNormal(d.param("mean", 0), d.param("stdDev", 1), s))
	case LogNormal:
		z := sampleNormal(d.param("logMean", 0), d.param("logStd", 1), s)
		return clampNonNegative(math.Exp(z))
	case Gamma:
		return clampNonNegative(sampleGamma(d.param("shape", 1), d.param("scale", 1), s))
	case Erlang:
		return clampNonNegative(sampleErlang(int(d.param("k", 1)), d.param("rate", 1), s))
	case Weibull:
		return clampNonNegative(sampleWeibull(d.param("scale", 1), d.param("shape", 1), s))
	case Beta:
		return sampleBeta(d.param("alpha", 1), d.param("beta", 1), s)
	case Pearson5:
		return clampNonNegative(samplePearson5(d.param("shape", 1), d.param("scale", 1), s))
	case Pearson6:
		return clampNonNegative(samplePearson6(d.param("alpha1", 1), d.param("alpha2", 1), d.param("beta", 1), s))
	case JohnsonSB:
		return sampleJohnsonSB(d, s)
	case JohnsonSU:
		return sampleJohnsonSU(d, s)
	case LogLogistic:
		return clampNonNegative(sampleLogLogistic(d.param("scale", 1), d.param("shape", 1), s))
	case Poisson:
		return float64(samplePoisson(d.param("lambda", 1), s))
	case Binomial:
		return float64(sampleBinomial(int(d.param("n", 1)), d.param("p", 0.5), s))
	case Geometric:
		return float64(sampleGeometric(d.param("p", 0.5), s))
	case NegativeBinomial:
		return float64(sampleNegativeBinomial(int(d.param("r", 1)), d.param("p", 0.5), s))
	case TruncatedNormal:
		return sampleTruncatedNormal(d, s)
	case TruncatedExponential:
		return sampleTruncatedExponential(d, s)
	default:
		logging.WarnDefault(context.Background(), "unknown distribution tag, returning 1: "+string(d.Type))
		return 1
	}
}

// SampleDiscrete draws one value from a discrete outcome list via
// cumulative lookup.
func SampleDiscrete(outcomes []DiscreteOutcome, s *rng.Stream) float64 {
	u := s.Next()
	cum := 0.0
	for _, o := range outcomes {
		cum += o.Probability
		if u <= cum {
			return o.Value
		}
	}
	if len(outcomes) > 0 {
		return outcomes[len(outcomes)-1].Value
	}
	return 0
}

// SampleEmpirical draws one value from a sorted (value, cumProb) table
// by linear interpolation.
func SampleEmpirical(pairs []Pair, s *rng.Stream) float64 {
	if len(pairs) == 0 {
		return 0
	}
	u := s.Next()
	if u <= pairs[0].CumProb {
		return pairs[0].Value
	}
	for i := 1; i < len(pairs); i++ {
		if u <= pairs[i].CumProb {
			lo, hi := pairs[i-1], pairs[i]
			span := hi.CumProb - lo.CumProb
			if span <= 0 {
				return hi.Value
			}
			frac := (u - lo.CumProb) / span
			return lo.Value + frac*(hi.Value-lo.Value)
		}
	}
	return pairs[len(pairs)-1].Value
}

func clampNonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return durationEpsilon
	}
	if v == 0 {
		return durationEpsilon
	}
	return v
}

func rateOrMean(d Descriptor) float64 {
	if rate, ok := d.Parameters["rate"]; ok && rate > 0 {
		return rate
	}
	if mean, ok := d.Parameters["mean"]; ok && mean > 0 {
		return 1.0 / mean
	}
	return 1
}

func sampleTriangular(d Descriptor, s *rng.Stream) float64 {
	min, mode, max := d.param("min", 0), d.param("mode", 0.5), d.param("max", 1)
	u := s.Next()
	f := (mode - min) / (max - min)
	if u < f {
		return min + math.Sqrt(u*(max-min)*(mode-min))
	}
	return max - math.Sqrt((1-u)*(max-min)*(max-mode))
}

func sampleExponential(rate float64, s *rng.Stream) float64 {
	u := s.Next()
	return -math.Log(1-u) / rate
}

// sampleNormal uses the Box-Muller transform. Each call consumes two
// uniform draws and discards the second normal variate; this keeps the
// per-sample RNG consumption simple and deterministic rather than
// caching the spare across calls.
func sampleNormal(mean, stdDev float64, s *rng.Stream) float64 {
	u1, u2 := s.Next(), s.Next()
	if u1 <= 0 {
		u1 = 1e-12
	}
	z0 := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + stdDev*z0
}

// sampleGamma implements Marsaglia-Tsang for shape >= 1, and the
// Ahrens-Dieter boost (Gamma(shape+1) * U^(1/shape)) for shape < 1.
func sampleGamma(shape, scale float64, s *rng.Stream) float64 {
	if shape < 1 {
		g := sampleGamma(shape+1, 1, s)
		u := s.Next()
		return scale * g * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = sampleNormal(0, 1, s)
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := s.Next()
		if u < 1-0.0331*x*x*x*x {
			return scale * d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return scale * d * v
		}
	}
}

func sampleErlang(k int, rate float64, s *rng.Stream) float64 {
	if k < 1 {
		k = 1
	}
	sum := 0.0
	for i := 0; i < k; i++ {
		sum += sampleExponential(rate, s)
	}
	return sum
}

func sampleWeibull(scale, shape float64, s *rng.Stream) float64 {
	u := s.Next()
	return scale * math.Pow(-math.Log(1-u), 1/shape)
}

// sampleBeta derives Beta(alpha, beta) from two Gamma draws.
func sampleBeta(alpha, beta float64, s *rng.Stream) float64 {
	x := sampleGamma(alpha, 1, s)
	y := sampleGamma(beta, 1, s)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

// samplePearson5 (inverse gamma) is 1/Gamma(shape, 1/scale).
func samplePearson5(shape, scale float64, s *rng.Stream) float64 {
	g := sampleGamma(shape, 1, s)
	if g == 0 {
		g = durationEpsilon
	}
	return scale / g
}

// samplePearson6 is the ratio of two independent Gamma variates.
func samplePearson6(alpha1, alpha2, beta float64, s *rng.Stream) float64 {
	x := sampleGamma(alpha1, 1, s)
	y := sampleGamma(alpha2, 1, s)
	if y == 0 {
		y = durationEpsilon
	}
	return beta * x / y
}

// sampleJohnsonSB is the bounded Johnson system: logit-normal mapped to
// [min, max].
func sampleJohnsonSB(d Descriptor, s *rng.Stream) float64 {
	gamma, delta := d.param("gamma", 0), d.param("delta", 1)
	min, max := d.param("min", 0), d.param("max", 1)
	z := sampleNormal(0, 1, s)
	expo := math.Exp(-(z - gamma) / delta)
	return min + (max-min)/(1+expo)
}

// sampleJohnsonSU is the unbounded Johnson system: sinh-normal.
func sampleJohnsonSU(d Descriptor, s *rng.Stream) float64 {
	gamma, delta := d.param("gamma", 0), d.param("delta", 1)
	xi, lambda := d.param("xi", 0), d.param("lambda", 1)
	z := sampleNormal(0, 1, s)
	return xi + lambda*math.Sinh((z-gamma)/delta)
}

func sampleLogLogistic(scale, shape float64, s *rng.Stream) float64 {
	u := s.Next()
	return scale * math.Pow(u/(1-u), 1/shape)
}

func samplePoisson(lambda float64, s *rng.Stream) int {
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		k++
		p *= s.Next()
		if p <= l {
			return k - 1
		}
	}
}

func sampleBinomial(n int, p float64, s *rng.Stream) int {
	count := 0
	for i := 0; i < n; i++ {
		if s.Next() < p {
			count++
		}
	}
	return count
}

func sampleGeometric(p float64, s *rng.Stream) int {
	if p <= 0 {
		p = 1e-9
	}
	u := s.Next()
	return int(math.Floor(math.Log(1-u) / math.Log(1-p)))
}

func sampleNegativeBinomial(r int, p float64, s *rng.Stream) int {
	failures := 0
	successes := 0
	for successes < r {
		if s.Next() < p {
			successes++
		} else {
			failures++
		}
	}
	return failures
}

// sampleTruncatedNormal uses rejection sampling against [min, max].
func sampleTruncatedNormal(d Descriptor, s *rng.Stream) float64 {
	mean, stdDev := d.param("mean", 0), d.param("stdDev", 1)
	min, max := d.param("min", 0), d.param("max", math.Inf(1))
	for i := 0; i < 1000; i++ {
		v := sampleNormal(mean, stdDev, s)
		if v >= min && v <= max {
			return v
		}
	}
	return math.Max(min, durationEpsilon)
}

// sampleTruncatedExponential uses inverse-CDF on the truncated support
// [0, max].
func sampleTruncatedExponential(d Descriptor, s *rng.Stream) float64 {
	rate := rateOrMean(d)
	max := d.param("max", math.Inf(1))
	if math.IsInf(max, 1) {
		return clampNonNegative(sampleExponential(rate, s))
	}
	upperCDF := 1 - math.Exp(-rate*max)
	u := s.Next() * upperCDF
	return clampNonNegative(-math.Log(1-u) / rate)
}

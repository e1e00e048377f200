package dist

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallDiff = 1e-6

/*** Tests if a and b are approximately equal ***/
func appreq(a, b float64) bool {
	return math.Abs(a-b) <= smallDiff
}

func TestQuantileNormal(tst *testing.T) {
	probs := []float64{0.025, 0.5, 0.975}
	results := []float64{-1.959964, 0, 1.959964}
	for i, p := range probs {
		q := QuantileNormal(p)
		if !appreq(q, results[i]) {
			tst.Errorf("Incorrect quantile for p=%v. Expected: %v, got %v", p, results[i], q)
		}
		if !appreq(CDFNormal(q), p) {
			tst.Errorf("CDF(quantile(%v)) = %v", p, CDFNormal(q))
		}
	}
}

func TestNormalLogProb(tst *testing.T) {
	assert.InDelta(tst, -0.918939, NormalLogProb(0, 0, 1), smallDiff)
	assert.InDelta(tst, -0.5*math.Log(2*math.Pi*4)-0.5, NormalLogProb(3, 1, 4), smallDiff)
}

func TestGammaShapeRate(tst *testing.T) {
	shape, rate := GammaShapeRate(100, 1000)
	assert.InDelta(tst, 10, shape, smallDiff)
	assert.InDelta(tst, 0.1, rate, smallDiff)
}

func TestNIXPosteriorNoData(tst *testing.T) {
	mu, kappa, nu, s2 := NIXPosterior(0, 1, 2, 0.5, 0, 0, 0)
	assert.Equal(tst, []float64{0, 1, 2, 0.5}, []float64{mu, kappa, nu, s2})
}

func TestNIXPosterior(tst *testing.T) {
	// two observations 1 and 3
	mu, kappa, nu, s2 := NIXPosterior(0, 1, 1, 1, 2, 4, 10)
	assert.InDelta(tst, 3, kappa, smallDiff)
	assert.InDelta(tst, 3, nu, smallDiff)
	assert.InDelta(tst, 4.0/3, mu, smallDiff)
	// (1*1 + 2 + 1*2*4/3) / 3
	assert.InDelta(tst, (1+2+8.0/3)/3, s2, smallDiff)
}

func TestSampleDirichletSumsToOne(tst *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, conc := range []float64{0.01, 0.3, 1, 10} {
		alpha := []float64{conc, conc, conc, conc, conc}
		for i := 0; i < 100; i++ {
			x := SampleDirichlet(rng, alpha)
			s := 0.0
			for _, v := range x {
				require.GreaterOrEqual(tst, v, 0.0)
				s += v
			}
			require.InDelta(tst, 1, s, 1e-9)
		}
	}
}

func TestSampleCategoricalLog(tst *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	logp := []float64{math.Log(0.2), math.Log(0.8), math.Inf(-1)}
	counts := make([]int, 3)
	n := 20000
	for i := 0; i < n; i++ {
		counts[SampleCategoricalLog(rng, logp)]++
	}
	assert.Zero(tst, counts[2])
	assert.InDelta(tst, 0.8, float64(counts[1])/float64(n), 0.02)
}

func TestTruncatedNormal(tst *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 1000; i++ {
		x := TruncatedNormal(rng, 0, 1, 0.5, 2)
		require.True(tst, x >= 0.5 && x <= 2, "out of range: %v", x)
	}
	// far tail clamps
	x := TruncatedNormal(rng, 0, 1, 50, 60)
	assert.Equal(tst, 50.0, x)
}

func TestSampleNormalInvChiSquaredPositive(tst *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	for i := 0; i < 1000; i++ {
		_, v := SampleNormalInvChiSquared(rng, 0, 1, 2, 0.5)
		require.Greater(tst, v, 0.0)
	}
}

func BenchmarkSampleCategoricalLog(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 1))
	logp := []float64{-1, -2, -0.5, -3, -10}
	for i := 0; i < b.N; i++ {
		SampleCategoricalLog(rng, logp)
	}
}

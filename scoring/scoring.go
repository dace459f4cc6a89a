// Package scoring ranks providers with CRITIC-weighted scores over
// their recorded latency and price.
//
// CRITIC (CRiteria Importance Through Intercriteria Correlation)
// weights each criterion by how much independent information it
// carries: high standard deviation raises a criterion's weight, high
// correlation with the other criteria lowers it. A criterion that
// never varies contributes nothing.
package scoring

import (
	"math"

	"github.com/chainmux/rpcrouter"
)

// Engine computes provider scores from a metrics ledger. It reads the
// store and never mutates it. When a cache is attached, computed
// tables are reused until they expire.
type Engine struct {
	store *rpcrouter.MetricsStore
	cache *Cache
}

var _ rpcrouter.Scorer = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithCache attaches a score cache.
func WithCache(c *Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// NewEngine creates an Engine over store.
func NewEngine(store *rpcrouter.MetricsStore, opts ...Option) *Engine {
	e := &Engine{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scores returns one score per provider that has records for method,
// along with the weights that produced them. An empty table means no
// provider has recorded behaviour yet.
func (e *Engine) Scores(method string) (rpcrouter.ScoreTable, rpcrouter.Weights) {
	if e.cache != nil {
		if table, w, ok := e.cache.Get(method); ok {
			return table, w
		}
	}

	table, w := e.compute(method)

	if e.cache != nil && len(table) > 0 {
		e.cache.Put(method, table, w)
	}
	return table, w
}

func (e *Engine) compute(method string) (rpcrouter.ScoreTable, rpcrouter.Weights) {
	latest := e.store.Latest(method)
	if len(latest) == 0 {
		return nil, rpcrouter.Weights{}
	}

	// History matrix over every record for the method, pseudo-provider
	// rows excluded. Weights come from history; scores from the latest
	// snapshot.
	var histLat, histPrice []float64
	for _, r := range e.store.Records(method) {
		if rpcrouter.IsBest(r.Provider) {
			continue
		}
		histLat = append(histLat, r.LatencyMS)
		histPrice = append(histPrice, r.PriceUSD)
	}
	weights := CriticWeights([][]float64{Normalize(histLat), Normalize(histPrice)})
	w := rpcrouter.Weights{Latency: weights[0], Price: weights[1]}

	snapLat := make([]float64, len(latest))
	snapPrice := make([]float64, len(latest))
	for i, r := range latest {
		snapLat[i] = r.LatencyMS
		snapPrice[i] = r.PriceUSD
	}
	latNorm := Normalize(snapLat)
	priceNorm := Normalize(snapPrice)

	table := make(rpcrouter.ScoreTable, len(latest))
	for i, r := range latest {
		score := latNorm[i]*w.Latency + priceNorm[i]*w.Price
		if math.IsNaN(score) {
			score = 0
		}
		table[i] = rpcrouter.ProviderScore{
			Provider:  r.Provider,
			Score:     score,
			LatencyMS: r.LatencyMS,
			PriceUSD:  r.PriceUSD,
			Eligible:  r.Eligible,
		}
	}
	return table, w
}

// Normalize maps xs onto [0,1] with lower raw values scoring higher.
// A constant column normalizes to 1 everywhere.
func Normalize(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	min, max := xs[0], xs[0]
	for _, v := range xs[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range xs {
		out[i] = 1 - (v-min)/(max-min)
	}
	return out
}

// CriticWeights computes normalized criterion weights from a column-
// major normalized matrix: cols[j] is criterion j over all rows. Fewer
// than two rows, or a matrix with no varying criterion, yields equal
// weights.
func CriticWeights(cols [][]float64) []float64 {
	k := len(cols)
	if k == 0 {
		return nil
	}
	equal := make([]float64, k)
	for j := range equal {
		equal[j] = 1.0 / float64(k)
	}
	if len(cols[0]) < 2 {
		return equal
	}

	sigma := make([]float64, k)
	for j, col := range cols {
		sigma[j] = stddev(col)
	}

	weights := make([]float64, k)
	var total float64
	for j := range cols {
		if sigma[j] < 1e-9 {
			continue
		}
		var conflict float64
		for m := range cols {
			r := pearson(cols[j], cols[m])
			if math.IsNaN(r) {
				r = 0
			}
			conflict += math.Abs(r)
		}
		c := sigma[j] * (1 - (conflict-1)/float64(k-1))
		if c < 0 || math.IsNaN(c) {
			c = 0
		}
		weights[j] = c
		total += c
	}
	if total == 0 {
		return equal
	}
	for j := range weights {
		weights[j] /= total
	}
	return weights
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean := sum / n

	var ss float64
	for _, v := range xs {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / (n - 1))
}

// pearson is the correlation coefficient of two equal-length columns.
// Returns NaN when either column is constant.
func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return math.NaN()
	}
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	return cov / math.Sqrt(varX*varY)
}

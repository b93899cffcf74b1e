package strategy

// calculateEMA computes an exponential moving average over prices using an
// initial SMA seed, following spec §4.F "EMA": "initial SMA over the first
// `period` values, then iterative update `ema ← price·k + ema·(1 − k)` with
// `k = 2/(period + 1)`." Grounded on
// original_source/src/strategy.py's TrendFollower._calculate_ema.
func calculateEMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}

	seed := prices
	if len(seed) > period {
		seed = seed[:period]
	}
	var sum float64
	for _, p := range seed {
		sum += p
	}
	ema := sum / float64(period)

	k := 2.0 / float64(period+1)
	for _, p := range prices[len(seed):] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

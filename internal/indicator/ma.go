package indicator

import "math"

// SMA is the simple moving average. The first period-1 values are NaN.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMA is the exponential moving average seeded with the SMA of the first period
// values.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	k := 2 / float64(period+1)
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
		out[i] = math.NaN()
	}
	out[period-1] = seed / float64(period)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

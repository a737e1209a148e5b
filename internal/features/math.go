package features

import "math"

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// slope fits y = a + b*x over x = 0..n-1 by least squares and returns b.
func slope(ys []float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	// x mean for 0..n-1 is (n-1)/2.
	xMean := float64(n-1) / 2
	yMean := mean(ys)
	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// zScore of the last element against the full series.
func zScore(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sd := stddev(xs)
	if sd == 0 {
		return 0
	}
	return (xs[len(xs)-1] - mean(xs)) / sd
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

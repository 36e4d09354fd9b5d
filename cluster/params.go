package cluster

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"
)

// Params is the client workload: K requests spaced by exponentially distributed delays
// with mean Lambda milliseconds
type Params struct {
	K      int
	Lambda float64
}

func DefaultParams() Params {
	return Params{K: 100, Lambda: 10}
}

// LoadParams reads a file of two whitespace-separated numbers, "k λ".
// An empty path returns DefaultParams.
func LoadParams(path string) (Params, error) {
	if path == "" {
		return DefaultParams(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("failed to read params file: %w", err)
	}

	return ParseParams(string(data))
}

func ParseParams(s string) (Params, error) {
	var fields = strings.Fields(s)
	if len(fields) != 2 {
		return Params{}, fmt.Errorf("params must be two numbers \"k lambda\", got %d fields", len(fields))
	}

	k, err := strconv.Atoi(fields[0])
	if err != nil {
		return Params{}, fmt.Errorf("invalid request count %q: %w", fields[0], err)
	}
	if k < 0 {
		return Params{}, fmt.Errorf("request count cannot be negative: %d", k)
	}

	lambda, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Params{}, fmt.Errorf("invalid lambda %q: %w", fields[1], err)
	}
	if lambda < 0 || math.IsNaN(lambda) || math.IsInf(lambda, 0) {
		return Params{}, fmt.Errorf("lambda must be a non-negative number: %v", lambda)
	}

	return Params{K: k, Lambda: lambda}, nil
}

// Delay samples the wait before the next request, -ln(U)·λ milliseconds
func (p Params) Delay(rng *rand.Rand) time.Duration {
	var u = rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	var ms = -math.Log(u) * p.Lambda
	return time.Duration(ms * float64(time.Millisecond))
}

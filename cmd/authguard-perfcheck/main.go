// Command authguard-perfcheck compares two `go test -bench` outputs and fails
// when a tracked check-path benchmark regressed past the threshold.
//
// Usage:
//
//	go test -run '^$' -bench 'CheckRateLimit|Metrics' -count 5 . > new.txt
//	authguard-perfcheck --baseline old.txt --candidate new.txt
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
)

var trackedMetrics = map[string][]string{
	"BenchmarkCheckRateLimitAllowed": {"ns/op", "allocs/op"},
	"BenchmarkCheckRateLimitDenied":  {"ns/op", "allocs/op"},
	"BenchmarkCheckRateLimitTrusted": {"ns/op", "allocs/op"},
	"BenchmarkMetricsIncParallel":    {"ns/op"},
}

type sampleSet map[string]map[string][]float64

// CLI defines the command-line interface.
type CLI struct {
	Baseline  string  `required:"" type:"existingfile" help:"Benchmark output of the baseline build."`
	Candidate string  `required:"" type:"existingfile" help:"Benchmark output of the candidate build."`
	Threshold float64 `default:"0.30" help:"Maximum allowed regression ratio (0.30 = +30%)."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("authguard-perfcheck"),
		kong.Description("Benchmark regression gate for the authguard check path."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

func (c *CLI) Run() error {
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must be >= 0")
	}

	baseline, err := parseBenchmarkFile(c.Baseline)
	if err != nil {
		return fmt.Errorf("parse baseline: %w", err)
	}
	candidate, err := parseBenchmarkFile(c.Candidate)
	if err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}

	failures := compare(os.Stdout, baseline, candidate, c.Threshold)
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "performance regression threshold exceeded:")
		for _, failure := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", failure)
		}
		return fmt.Errorf("%d regression(s)", len(failures))
	}
	return nil
}

// compare prints one line per tracked metric and returns the failures.
func compare(w io.Writer, baseline, candidate sampleSet, threshold float64) []string {
	names := make([]string, 0, len(trackedMetrics))
	for name := range trackedMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	fmt.Fprintln(w, "benchmark metric baseline candidate delta")
	for _, benchmark := range names {
		for _, metric := range trackedMetrics[benchmark] {
			baseSamples := baseline[benchmark][metric]
			candidateSamples := candidate[benchmark][metric]
			if len(baseSamples) == 0 || len(candidateSamples) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", benchmark, metric))
				continue
			}

			baseMedian := median(baseSamples)
			candidateMedian := median(candidateSamples)
			if baseMedian <= 0 {
				// allocs/op of zero stays zero or it regressed.
				if metric == "allocs/op" && candidateMedian > 0 {
					failures = append(failures, fmt.Sprintf("%s %s went from 0 to %.0f", benchmark, metric, candidateMedian))
				}
				fmt.Fprintf(w, "%s %s %.3f %.3f\n", benchmark, metric, baseMedian, candidateMedian)
				continue
			}

			delta := (candidateMedian - baseMedian) / baseMedian
			fmt.Fprintf(w, "%s %s %.3f %.3f %+0.2f%%\n", benchmark, metric, baseMedian, candidateMedian, delta*100)
			if delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", benchmark, metric, delta*100, threshold*100))
			}
		}
	}
	return failures
}

func parseBenchmarkFile(path string) (sampleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBenchmarks(file)
}

func parseBenchmarks(r io.Reader) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := trackedMetrics[name]; !ok {
			continue
		}
		if _, ok := samples[name]; !ok {
			samples[name] = map[string][]float64{}
		}

		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			samples[name][fields[i+1]] = append(samples[name][fields[i+1]], value)
		}
	}
	return samples, scanner.Err()
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	copied := make([]float64, len(values))
	copy(copied, values)
	sort.Float64s(copied)

	mid := len(copied) / 2
	if len(copied)%2 == 1 {
		return copied[mid]
	}
	return (copied[mid-1] + copied[mid]) / 2
}

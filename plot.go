package main

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// renderPlot draws one throughput bar per (library, workload) pair at the
// largest benchmarked size, grouped by workload.
func renderPlot(results []Result, path string) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to plot")
	}

	// Keep only the largest size per pair so the chart stays readable.
	maxN := 0
	for _, r := range results {
		if r.N > maxN {
			maxN = r.N
		}
	}
	type key struct{ lib, wl string }
	best := make(map[key]float64)
	for _, r := range results {
		if r.N == maxN {
			best[key{r.Library, r.Workload}] = r.Mops
		}
	}

	keys := make([]key, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].wl != keys[j].wl {
			return keys[i].wl < keys[j].wl
		}
		return keys[i].lib < keys[j].lib
	})

	values := make(plotter.Values, len(keys))
	labels := make([]string, len(keys))
	for i, k := range keys {
		values[i] = best[k]
		labels[i] = k.wl + "\n" + k.lib
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Throughput at n=%d", maxN)
	p.Y.Label.Text = "Mops/s"

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return fmt.Errorf("bar chart: %w", err)
	}
	p.Add(bars)
	p.NominalX(labels...)

	width := vg.Length(len(keys)) * vg.Points(28)
	if width < 6*vg.Inch {
		width = 6 * vg.Inch
	}
	return p.Save(width, 4*vg.Inch, path)
}

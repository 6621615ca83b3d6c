package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gossipsim/internal/model"
	"gossipsim/internal/report"
	boltstore "gossipsim/internal/store/bolt"
)

// inspect prints the summary and evaluation curves recorded at path. The file
// must already exist.
func inspect(w io.Writer, path string) error {
	st, err := boltstore.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer st.Close()

	sum, err := report.LoadSummary(st)
	switch {
	case errors.Is(err, report.ErrNoSummary):
		_, _ = fmt.Fprintln(w, "Run: (no summary, the run did not finish)")
	case err != nil:
		return err
	default:
		_, _ = fmt.Fprintf(w, "Run: sent=%d failed=%d ticks=%d\n", sum.Sent, sum.Failed, sum.Timesteps)
		_, _ = fmt.Fprintf(w, "Digest: %s\n", sum.Digest)
	}

	evs, err := report.LoadEvaluations(st)
	if err != nil {
		return err
	}
	var local, global []report.Point
	for _, ev := range evs {
		p := report.Point{Tick: ev.Tick, Mean: report.Mean(ev.Results)}
		if ev.Local {
			local = append(local, p)
		} else {
			global = append(global, p)
		}
	}
	writeCurve(w, "local", local)
	writeCurve(w, "global", global)
	return nil
}

func writeCurve(w io.Writer, name string, points []report.Point) {
	if len(points) == 0 {
		_, _ = fmt.Fprintf(w, "Evaluation (%s): (none)\n", name)
		return
	}
	_, _ = fmt.Fprintf(w, "Evaluation (%s, %d points):\n", name, len(points))
	for _, p := range points {
		_, _ = fmt.Fprintf(w, "  tick %-6d %s\n", p.Tick, formatMetrics(p.Mean))
	}
}

// formatMetrics renders m as "k=v" pairs in key order.
func formatMetrics(m model.Metrics) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.4f", k, m[k])
	}
	return strings.Join(parts, " ")
}

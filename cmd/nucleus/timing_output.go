package main

import (
	"fmt"
	"io"

	"nucleus/internal/observ"
)

// printPhaseTimings writes one line per timed run phase plus the total.
func printPhaseTimings(out io.Writer, report observ.Report) {
	var printErr error
	for _, p := range report.Phases {
		if p.Note != "" {
			_, printErr = fmt.Fprintf(out, "%-8s %7.2f ms  (%s)\n", p.Name, p.DurationMS, p.Note)
		} else {
			_, printErr = fmt.Fprintf(out, "%-8s %7.2f ms\n", p.Name, p.DurationMS)
		}
		if printErr != nil {
			return
		}
	}
	if len(report.Phases) > 0 {
		_, _ = fmt.Fprintf(out, "%-8s %7.2f ms\n", "total", report.TotalMS)
	}
}

package main

import (
	"fmt"
	"io"

	"mcemit/internal/observ"
)

func printUnitTimings(out io.Writer, unit string, report observ.Report) {
	if out == nil || len(report.Phases) == 0 {
		return
	}
	fmt.Fprintf(out, "unit %s ", unit)
	fmt.Fprint(out, report.Summary())
}

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Limetric/storeferry/migrator"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
)

// printReport writes one line per store followed by a summary.
func printReport(w io.Writer, outcomes []storeOutcome) {
	var migrated, current, skipped, failed int
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
			red.Fprintf(w, "%-10s", "FAILED")
			fmt.Fprintf(w, " %s: %v\n", o.Path, o.Err)
		case o.Skipped:
			skipped++
			yellow.Fprintf(w, "%-10s", "skipped")
			fmt.Fprintf(w, " %s (missing)\n", o.Path)
		case o.Result.Created:
			migrated++
			green.Fprintf(w, "%-10s", "created")
			fmt.Fprintf(w, " %s at %s\n", o.Path, o.Result.To)
		case o.Result.Migrated:
			migrated++
			green.Fprintf(w, "%-10s", "migrated")
			fmt.Fprintf(w, " %s %s (%s)\n", o.Path, o.Result.Plan, o.Result.Duration.Round(time.Millisecond))
		default:
			current++
			cyan.Fprintf(w, "%-10s", "current")
			fmt.Fprintf(w, " %s at %s\n", o.Path, o.Result.To)
		}
	}
	fmt.Fprintf(w, "%d stores: %d migrated, %d current, %d skipped, %d failed\n",
		len(outcomes), migrated, current, skipped, failed)
}

// printStatus writes the dry-run view of one store.
func printStatus(w io.Writer, path string, h *migrator.StoreHandle, plan *migrator.MigrationPlan, err error) {
	if err != nil {
		red.Fprintf(w, "%-10s", "ERROR")
		fmt.Fprintf(w, " %s: %v\n", path, err)
		return
	}

	size := "?"
	if info, statErr := os.Stat(path); statErr == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	if plan.Empty() {
		cyan.Fprintf(w, "%-10s", "current")
		fmt.Fprintf(w, " %s at %s, %s, uuid %s\n", path, h.Detected.Name, size, h.Metadata.UUID)
		return
	}
	yellow.Fprintf(w, "%-10s", "pending")
	fmt.Fprintf(w, " %s at %s, %s, plan %s\n", path, h.Detected.Name, size, plan)
}

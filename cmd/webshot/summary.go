package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pterm/pterm"

	"github.com/JakeFAU/webshot/internal/app"
	"github.com/JakeFAU/webshot/internal/capture"
)

// printSummary writes one line per target in input order, one per dropped
// line, and the final run status.
func printSummary(w io.Writer, res app.Result, runErr error) {
	success := pterm.Success.WithWriter(w)
	warning := pterm.Warning.WithWriter(w)
	failure := pterm.Error.WithWriter(w)

	outcomes := append([]capture.Outcome(nil), res.Outcomes...)
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Target.Index < outcomes[j].Target.Index
	})
	for _, out := range outcomes {
		switch out.Status {
		case capture.StatusSuccess:
			success.Println(fmt.Sprintf("%s -> %s (%s)", out.Target.Raw, out.URI, out.Duration.Round(time.Millisecond)))
		case capture.StatusTimedOut:
			warning.Println(fmt.Sprintf("%s timed out: %s", out.Target.Raw, out.Reason()))
		default:
			failure.Println(fmt.Sprintf("%s failed: %s", out.Target.Raw, out.Reason()))
		}
	}
	for _, rej := range res.Rejected {
		warning.Println(fmt.Sprintf("%s dropped (%q): %s", rej.Location(), rej.Input, rej.Reason()))
	}

	ok, timedOut, failed := res.Counts()
	status := fmt.Sprintf("%d captured, %d timed out, %d failed, %d dropped",
		ok, timedOut, failed, len(res.Rejected))
	switch {
	case runErr != nil:
		failure.Println(fmt.Sprintf("run failed: %v (%s)", runErr, status))
	case timedOut+failed > 0 || len(res.Rejected) > 0:
		warning.Println("run finished: " + status)
	default:
		success.Println("run finished: " + status)
	}
}

func printError(w io.Writer, err error) {
	pterm.Error.WithWriter(w).Println(err.Error())
}

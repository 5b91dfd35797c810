package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/nexus/internal/interview"
	"github.com/MrWong99/nexus/internal/store"
)

// historyLimit caps the -history listing.
const historyLimit = 50

// writeReport prints r as indented JSON.
func writeReport(w io.Writer, r *interview.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// queryReports serves the -report and -history modes. A non-empty id prints
// that report; otherwise the most recent reports for candidate are listed.
func queryReports(ctx context.Context, w io.Writer, s store.Store, candidate, id string) error {
	if id != "" {
		r, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("report %q not found", id)
		}
		return writeReport(w, r)
	}

	list, err := s.List(ctx, candidate, historyLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCANDIDATE\tROLE\tSTARTED\tDURATION\tSCORE")
	for _, r := range list {
		score := "-"
		if r.Feedback != nil {
			score = fmt.Sprintf("%.1f", r.Feedback.OverallScore)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.CandidateName,
			r.Role,
			r.StartedAt.Local().Format(time.DateTime),
			r.EndedAt.Sub(r.StartedAt).Round(time.Second),
			score,
		)
	}
	return tw.Flush()
}

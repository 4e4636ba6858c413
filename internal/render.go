package internal

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/pipeline"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderReport(w io.Writer, r *models.Report) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Stage", "Status", "Actions", "Touched", "Duration"})
	for _, s := range r.Stages {
		t.AppendRow(table.Row{s.Name, string(s.Status), s.Actions, len(s.Touched), s.Duration.Round(time.Millisecond)})
	}
	t.Render()
	if r.OK() {
		_, _ = fmt.Fprintf(w, "run %s: %d action(s)\n", r.RunID, r.Actions())
	} else {
		_, _ = fmt.Fprintf(w, "run %s failed: %s\n", r.RunID, r.Error)
	}
}

func renderPlan(w io.Writer, entries []pipeline.PlanEntry) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Stage", "Gate", "Stale", "Reason"})
	stale := 0
	for _, e := range entries {
		mark := ""
		if e.Stale {
			mark = "yes"
			stale++
		}
		t.AppendRow(table.Row{e.Stage, e.Gate, mark, e.Reason})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d stale gates)\n", stale)
}

func renderHistory(w io.Writer, runs []history.RunRow) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "(no runs recorded)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Trigger", "Started", "Duration", "Actions", "Result"})
	for _, r := range runs {
		result := "ok"
		if !r.OK {
			result = "failed"
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Trigger,
			r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Actions,
			result,
		})
	}
	t.Render()
}

func renderRun(w io.Writer, run *history.RunRow, stages []history.StageRow) {
	_, _ = fmt.Fprintf(w, "run %s (%s) started %s\n", run.ID, run.Trigger, run.StartedAt.Local().Format(time.DateTime))
	t := newTable(w)
	t.AppendHeader(table.Row{"Stage", "Status", "Actions", "Touched", "Duration", "Error"})
	for _, s := range stages {
		t.AppendRow(table.Row{s.Stage, s.Status, s.Actions, s.Touched, s.Duration, s.Error})
	}
	t.Render()
}

func renderFailures(w io.Writer, hits []history.FailureHit) {
	if len(hits) == 0 {
		_, _ = fmt.Fprintln(w, "(no matching failures)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Stage", "Error"})
	for _, h := range hits {
		t.AppendRow(table.Row{h.RunID, h.Stage, h.Snippet})
	}
	t.Render()
}

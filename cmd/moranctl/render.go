package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"

	"moran/internal/model"
	"moran/internal/stats"
	"moran/pkg/moran"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if title != "" {
		t.SetTitle(title)
	}
	t.SetStyle(table.StyleLight)
	return t
}

func renderRunSummary(w io.Writer, out runOutput) {
	t := newTable(w, "Moran Run")
	winner := out.Winner
	if winner == "" {
		winner = "none"
	}
	t.AppendRows([]table.Row{
		{"Run ID", out.RunID},
		{"Artifacts", out.ArtifactsDir},
		{"Population Size", out.PopulationSize},
		{"Generations", out.Generations},
		{"Winner", winner},
		{"Fixated", out.Fixated},
		{"Stochastic", out.Stochastic},
		{"Cache Hits", out.CacheHits},
		{"Cache Misses", out.CacheMisses},
	})
	t.Render()

	names := make([]string, 0, len(out.FinalDistribution))
	for name := range out.FinalDistribution {
		names = append(names, name)
	}
	sort.Strings(names)
	t = newTable(w, "Final Population")
	t.AppendHeader(table.Row{"Strategy", "Count"})
	for _, name := range names {
		t.AppendRow(table.Row{name, out.FinalDistribution[name]})
	}
	t.Render()
}

func renderFixationSummary(w io.Writer, summary moran.FixationSummary) {
	t := newTable(w, "Fixation")
	t.AppendRows([]table.Row{
		{"Experiment ID", summary.ExperimentID},
		{"Population Size", summary.PopulationSize},
		{"Repetitions", summary.Repetitions},
		{"Completed", summary.Completed},
		{"Mean Generations", fmt.Sprintf("%.2f", summary.MeanGenerations)},
		{"Std Generations", fmt.Sprintf("%.2f", summary.StdGenerations)},
	})
	t.Render()

	t = newTable(w, "Winners")
	t.AppendHeader(table.Row{"Strategy", "Fixations", "Frequency"})
	for _, name := range summary.SortedWinners() {
		t.AppendRow(table.Row{
			name,
			summary.WinnerCounts[name],
			fmt.Sprintf("%.3f", summary.FixationFrequency[name]),
		})
	}
	t.Render()
}

func renderFixations(w io.Writer, exps []stats.FixationExperiment) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"Experiment", "Started", "Population", "Reps", "Completed", "Mean Gens"})
	for _, exp := range exps {
		t.AppendRow(table.Row{
			exp.ID,
			exp.StartedAtUTC,
			exp.Population,
			exp.Repetitions,
			exp.Completed,
			fmt.Sprintf("%.2f", exp.MeanGenerations),
		})
	}
	t.Render()
}

func renderRuns(w io.Writer, items []runsItem) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"Run", "Created", "Population", "N", "Turns", "Noise", "Seed", "Gens", "Winner"})
	for _, item := range items {
		winner := item.Winner
		if !item.Fixated {
			winner = "-"
		}
		t.AppendRow(table.Row{
			item.RunID,
			item.CreatedAtUTC,
			item.Population,
			item.PopulationSize,
			item.Turns,
			item.Noise,
			item.Seed,
			item.Generations,
			winner,
		})
	}
	t.Render()
}

func renderRunDetails(w io.Writer, details moran.RunDetails) {
	winner := details.Summary.Winner
	if winner == "" {
		winner = "none"
	}
	t := newTable(w, "Run "+details.RunID)
	t.AppendRows([]table.Row{
		{"Population", details.Config.Population},
		{"Population Size", details.Config.PopulationSize},
		{"Turns", details.Config.Turns},
		{"Noise", details.Config.Noise},
		{"Seed", details.Config.Seed},
		{"Workers", details.Config.Workers},
		{"Max Generations", details.Config.MaxGenerations},
		{"Generations", details.Summary.Generations},
		{"Winner", winner},
		{"Fixated", details.Summary.Fixated},
		{"Stochastic", details.Summary.Stochastic},
	})
	t.Render()

	header := table.Row{"Gen"}
	for _, name := range details.Series.Species {
		header = append(header, name)
	}
	t = newTable(w, "Population Series")
	t.AppendHeader(header)
	for gen, counts := range details.Series.Counts {
		row := table.Row{gen}
		for _, n := range counts {
			row = append(row, n)
		}
		t.AppendRow(row)
	}
	t.Render()
}

func renderPopulations(w io.Writer, history []model.Distribution) {
	species := map[string]struct{}{}
	for _, dist := range history {
		for name := range dist {
			species[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(species))
	for name := range species {
		names = append(names, name)
	}
	sort.Strings(names)

	header := table.Row{"Gen"}
	for _, name := range names {
		header = append(header, name)
	}
	t := newTable(w, "")
	t.AppendHeader(header)
	for gen, dist := range history {
		row := table.Row{gen}
		for _, name := range names {
			row = append(row, dist[name])
		}
		t.AppendRow(row)
	}
	t.Render()
}

func renderScores(w io.Writer, history [][]float64) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"Gen", "Scores"})
	for gen, scores := range history {
		t.AppendRow(table.Row{gen, fmt.Sprintf("%.3f", scores)})
	}
	t.Render()
}

func renderReplacements(w io.Writer, records []model.ReplacementRecord) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"Gen", "Parent", "Parent Strategy", "Victim", "Victim Strategy"})
	for _, r := range records {
		t.AppendRow(table.Row{r.Generation, r.Parent, r.ParentName, r.Victim, r.VictimName})
	}
	t.Render()
}

func renderDiagnostics(w io.Writer, diagnostics []model.GenerationDiagnostics) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"Gen", "Mean", "StdDev", "Min", "Max", "Species", "Dominant", "Size"})
	for _, d := range diagnostics {
		t.AppendRow(table.Row{
			d.Generation,
			fmt.Sprintf("%.3f", d.MeanScore),
			fmt.Sprintf("%.3f", d.StdDevScore),
			fmt.Sprintf("%.3f", d.MinScore),
			fmt.Sprintf("%.3f", d.MaxScore),
			d.SpeciesCount,
			d.DominantSpecies,
			d.LargestSpeciesSize,
		})
	}
	t.Render()
}

type fixationProgress struct {
	pw      progress.Writer
	tracker *progress.Tracker
}

func startFixationProgress(w io.Writer, total int) *fixationProgress {
	pw := progress.NewWriter()
	pw.SetAutoStop(true)
	pw.SetOutputWriter(w)
	pw.SetMessageLength(24)
	pw.SetNumTrackersExpected(1)
	pw.SetStyle(progress.StyleDefault)
	pw.SetTrackerLength(25)
	pw.SetTrackerPosition(progress.PositionRight)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.Style().Options.PercentFormat = "%2.0f%%"

	tracker := &progress.Tracker{
		Message: "Fixation repetitions",
		Total:   int64(total),
		Units:   progress.UnitsDefault,
	}
	pw.AppendTracker(tracker)
	go pw.Render()
	return &fixationProgress{pw: pw, tracker: tracker}
}

func (p *fixationProgress) update(done, _ int) {
	p.tracker.SetValue(int64(done))
}

func (p *fixationProgress) stop(ok bool) {
	if ok {
		p.tracker.MarkAsDone()
	} else {
		p.tracker.MarkAsErrored()
	}
	p.pw.Stop()
	for p.pw.IsRenderInProgress() {
		time.Sleep(50 * time.Millisecond)
	}
}

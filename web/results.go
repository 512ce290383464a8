package web

import (
	"net/http"

	"github.com/jnb666/fruitnet/sweep"
)

type ResultsPage struct {
	*Templates
	Rows    []sweep.Row
	Columns []string
	Summary []string
	run     *Runner
}

// Base data for handler functions to show the sweep results table
func NewResultsPage(t *Templates, run *Runner) *ResultsPage {
	p := &ResultsPage{run: run, Columns: sweep.Headers()}
	p.Templates = t.Select("/results")
	p.AddOption(Link{Name: "csv", Url: "/results.csv"})
	return p
}

// Handler function for the results table
func (p *ResultsPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		p.Heading = p.run.heading()
		p.Rows = p.run.Results.Rows()
		p.Summary = nil
		if len(p.run.Results) > 1 {
			if val, train, err := p.run.Results.Summary(); err == nil {
				p.Summary = []string{"val_acc: " + val.String(), "train_acc: " + train.String()}
			}
		}
		p.Exec(w, "results", p)
	}
}

// Handler function to download the results in CSV format
func (p *ResultsPage) CSV() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="results.csv"`)
		if err := p.run.Results.WriteCSV(w); err != nil {
			p.logError(w, err)
		}
	}
}

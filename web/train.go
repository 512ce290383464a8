package web

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jnb666/fruitnet/nnet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	Error string
	run   *Runner
}

// Base data for handler functions to start and stop the sweep and display the stats
func NewTrainPage(t *Templates, run *Runner) *TrainPage {
	p := &TrainPage{run: run}
	p.Templates = t.Select("/train")
	p.AddOption(Link{Name: "start", Url: "/train/start"})
	p.AddOption(Link{Name: "stop", Url: "/train/stop"})
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := mux.Vars(r)["cmd"]
		p.run.Lock()
		defer p.run.Unlock()
		switch cmd {
		case "start":
			if err := p.run.Start(); err != nil {
				p.log.Warnw("start failed", "error", err)
				p.Error = err.Error()
			} else {
				p.Error = ""
			}
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		case "stop":
			p.run.Stop()
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		default:
			p.Heading = p.run.heading()
			if p.run.Err != nil {
				p.Error = p.run.Err.Error()
			}
			p.SelectOptions(nil)
			if p.run.Running() {
				p.SelectOptions([]string{"start"})
			}
			p.Exec(w, "train", p)
		}
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		p.Exec(w, "stats", p)
	}
}

// Handler function for websocket connection
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			p.log.Warnw("websocket upgrade failed", "error", err)
			return
		}
		p.run.AddConn(conn)
	}
}

func (p *TrainPage) Headers() []string {
	return nnet.StatsHeaders()
}

// LatestStats returns up to n epochs from the current trial, newest first.
func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	stats := p.run.Current()
	if len(stats) > n {
		stats = stats[len(stats)-n:]
	}
	res := make([]nnet.Stats, len(stats))
	for i, s := range stats {
		res[len(stats)-1-i] = s
	}
	return res
}

// RunTime is the elapsed training time for the current trial.
func (p *TrainPage) RunTime() string {
	stats := p.run.Current()
	if len(stats) == 0 {
		return ""
	}
	return "run time: " + stats[len(stats)-1].Elapsed.Round(10*time.Millisecond).String()
}

func (p *TrainPage) LossPlot(width, height int) template.HTML {
	return chart(p.run.Current(), lossSeries, width, height)
}

func (p *TrainPage) AccuracyPlot(width, height int) template.HTML {
	return chart(p.run.Current(), accuracySeries, width, height)
}

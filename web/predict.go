package web

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// maximum size of an uploaded image
const maxUpload = 32 << 20

type PredictPage struct {
	*Templates
	Messages []string
	run      *Runner
	sync.Mutex
}

// Base data for handler functions to classify an uploaded image with the last trained model
func NewPredictPage(t *Templates, run *Runner) *PredictPage {
	p := &PredictPage{run: run}
	p.Templates = t.Select("/predict")
	return p
}

// Handler function for the upload form
func (p *PredictPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		p.run.Lock()
		p.Heading = p.run.heading()
		p.run.Unlock()
		p.Messages = p.Flashes(w, r)
		p.Exec(w, "predict", p)
	}
}

// Handler function for the form post, the result is shown as a flash message.
func (p *PredictPage) Upload() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := p.classify(r)
		if err != nil {
			p.log.Warnw("predict failed", "error", err)
			msg = "error: " + err.Error()
		}
		p.Flash(w, r, msg)
		http.Redirect(w, r, "/predict", http.StatusFound)
	}
}

func (p *PredictPage) classify(r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return "", err
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return "", err
	}
	defer file.Close()
	tmp, err := os.CreateTemp("", "predict-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, file)
	tmp.Close()
	if err != nil {
		return "", err
	}
	res, err := p.run.Classify(tmp.Name())
	if err != nil {
		return "", err
	}
	p.log.Infow("predict", "file", header.Filename, "class", res.Label, "prob", res.Prob)
	return header.Filename + ": " + res.String(), nil
}

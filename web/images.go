package web

import (
	"fmt"
	"image/png"
	"math/rand"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jnb666/fruitnet/img"
)

type ImagePage struct {
	*Templates
	Class   int
	Page    int
	Distort string
	Channel string
	Rows    []int
	Cols    []int
	Width   int
	Pages   int
	Total   int
	Error   string
	run     *Runner
	index   []int
}

// Base data for handler functions to view the training images
func NewImagePage(t *Templates, run *Runner, width, rows, cols int) *ImagePage {
	p := &ImagePage{run: run, Templates: t, Page: 1, Width: width, Rows: seq(rows), Cols: seq(cols)}
	for _, name := range []string{"prev", "next", "distort", "channel"} {
		p.AddOption(Link{Name: name, Url: "/images/opt/" + name})
	}
	return p
}

// Handler function for the main image page, class 0 is all classes.
func (p *ImagePage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		vars := mux.Vars(r)
		if vars["class"] != "" {
			p.Class, _ = strconv.Atoi(vars["class"])
		}
		p.Select("/images")
		p.Heading = p.run.heading()
		p.Dropdown = nil
		p.Error = ""
		samples, classes, err := p.run.Samples()
		if err != nil {
			p.Error = err.Error()
			p.Total, p.Pages = 0, 0
			p.Exec(w, "images", p)
			return
		}
		p.Dropdown = []Link{{Name: "all classes", Url: "/images/0", Selected: p.Class == 0}}
		for i, class := range classes {
			p.Dropdown = append(p.Dropdown, Link{Name: class, Url: "/images/" + strconv.Itoa(i+1), Selected: i+1 == p.Class})
		}
		p.filter(samples, classes)
		if p.Page > p.Pages || p.Page < 1 {
			p.Page = 1
		}
		var sel []string
		if p.Distort != "" {
			sel = append(sel, "distort")
		}
		if p.Channel != "" {
			sel = append(sel, "channel")
		}
		p.SelectOptions(sel)
		p.Exec(w, "images", p)
	}
}

// Set option from top menu
func (p *ImagePage) Setopt() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		switch mux.Vars(r)["opt"] {
		case "prev":
			p.Page = mod(p.Page-1, 1, p.Pages)
		case "next":
			p.Page = mod(p.Page+1, 1, p.Pages)
		case "distort":
			if p.Distort == "" {
				p.Distort = strconv.Itoa(rand.Intn(999999) + 1)
			} else {
				p.Distort = ""
			}
		case "channel":
			p.Channel = map[string]string{"": "r", "r": "g", "g": "b", "b": ""}[p.Channel]
		}
		http.Redirect(w, r, "/images/"+strconv.Itoa(p.Class), http.StatusFound)
	}
}

// select the samples to show
func (p *ImagePage) filter(samples []img.Sample, classes []string) {
	p.index = p.index[:0]
	for i, s := range samples {
		if p.Class == 0 || (p.Class <= len(classes) && s.Label == classes[p.Class-1]) {
			p.index = append(p.index, i)
		}
	}
	p.Total = len(p.index)
	perPage := len(p.Rows) * len(p.Cols)
	p.Pages = (p.Total + perPage - 1) / perPage
}

// Index returns the sample number shown at the given grid position plus one, or zero if there is none.
func (p *ImagePage) Index(row, col int) int {
	rows, cols := len(p.Rows), len(p.Cols)
	ix := (p.Page-1)*rows*cols + row*cols + col
	if ix < 0 || ix >= len(p.index) {
		return 0
	}
	return p.index[ix] + 1
}

// Label returns the class and file name for a sample.
func (p *ImagePage) Label(id int) string {
	if id < 1 || id > len(p.run.samples) {
		return ""
	}
	s := p.run.samples[id-1]
	return fmt.Sprintf("%s: %s", s.Label, filepath.Base(s.Path))
}

// Handler function for the image data, if the d parameter is set then random augmentation is applied
// using its value as the seed. The c parameter selects a single colour channel.
func (p *ImagePage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		id, _ := strconv.Atoi(mux.Vars(r)["id"])
		samples, _, err := p.run.Samples()
		if err != nil || id < 1 || id > len(samples) {
			http.NotFound(w, r)
			return
		}
		m, err := img.Load(samples[id-1].Path, p.run.Config.Npix, img.Nearest)
		if err != nil {
			p.logError(w, err)
			return
		}
		if seed, err := strconv.ParseInt(r.FormValue("d"), 10, 64); err == nil && seed != 0 {
			trans := img.NewTransformer(img.DefaultAugment(), 1, rand.New(rand.NewSource(seed+int64(id))))
			m = trans.Transform(m, 0)
		}
		m = m.Channel(r.FormValue("c"))
		w.Header().Set("Content-type", "image/png")
		png.Encode(w, m)
	}
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func mod(i, min, max int) int {
	if i < min {
		i = max
	}
	if i > max {
		i = min
	}
	return i
}

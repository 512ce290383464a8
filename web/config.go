package web

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/sweep"
	"gopkg.in/yaml.v3"
)

type ConfigPage struct {
	*Templates
	Fields []Field
	Layers []Layer
	Error  string
	run    *Runner
	sync.Mutex
}

type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
	grid    bool
	list    bool
}

type Layer struct {
	Index int
	Desc  string
}

// sweep settings which can be edited, names are the YAML keys
var configFields = []Field{
	{Name: "train_dir"},
	{Name: "npix"},
	{Name: "batch_sizes", grid: true, list: true},
	{Name: "optimizers", grid: true, list: true},
	{Name: "learning_rates", grid: true, list: true},
	{Name: "dropouts", grid: true, list: true},
	{Name: "epochs", grid: true},
	{Name: "frac", grid: true},
	{Name: "clean_validation", Boolean: true},
	{Name: "early_stop", Boolean: true},
	{Name: "min_delta"},
	{Name: "stop_after"},
	{Name: "seed"},
	{Name: "threads"},
	{Name: "log_every"},
}

// Base data for handler functions to view and update the sweep config
func NewConfigPage(t *Templates, run *Runner) *ConfigPage {
	p := &ConfigPage{run: run}
	p.Templates = t.Select("/config")
	p.AddOption(Link{Name: "save", Url: "/config/save", Submit: true})
	p.AddOption(Link{Name: "reset", Url: "/config/reset"})
	p.load(run.Config)
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		p.run.Lock()
		p.Heading = p.run.heading()
		p.run.Unlock()
		p.Exec(w, "config", p)
	}
}

// Handler function for the config form save action
func (p *ConfigPage) Save() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		p.run.Lock()
		defer p.run.Unlock()
		p.Error = ""
		if err := r.ParseForm(); err != nil {
			p.Error = err.Error()
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		if p.run.Running() {
			p.Error = "cannot update config while sweep is running"
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		haveErrors := false
		conf := p.run.Config
		for i, fld := range p.Fields {
			val := r.Form.Get(fld.Name)
			if fld.Boolean {
				p.Fields[i].On = val == "true"
				val = fmt.Sprint(p.Fields[i].On)
			} else {
				p.Fields[i].Value = val
			}
			p.Fields[i].Error = ""
			if err := setField(&conf, fld, val); err != nil {
				p.Fields[i].Error = "invalid syntax"
				haveErrors = true
			}
		}
		if !haveErrors {
			if _, err := conf.Grid.Points(); err != nil {
				p.Error = err.Error()
			} else {
				p.run.Config = conf
				p.load(conf)
			}
		}
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// Handler function to restore the default settings, the training directory is kept
func (p *ConfigPage) Reset() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		p.run.Lock()
		defer p.run.Unlock()
		if !p.run.Running() {
			conf := sweep.DefaultConfig()
			conf.TrainDir = p.run.Config.TrainDir
			p.run.Config = conf
			p.load(conf)
			p.Error = ""
		}
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

func (p *ConfigPage) load(conf sweep.Config) {
	p.Fields = getFields(conf)
	p.Layers = nil
	dropout := 0.5
	if len(conf.Grid.Dropouts) > 0 {
		dropout = conf.Grid.Dropouts[0]
	}
	if net, err := nnet.AlexNet(conf.Npix, dropout); err == nil {
		p.Layers = getLayers(&net)
	}
}

// current values formatted as YAML flow style
func getFields(conf sweep.Config) []Field {
	var doc struct {
		Top  map[string]interface{} `yaml:",inline"`
		Grid map[string]interface{} `yaml:"grid"`
	}
	data, _ := yaml.Marshal(conf)
	yaml.Unmarshal(data, &doc)
	flds := make([]Field, len(configFields))
	for i, f := range configFields {
		val := doc.Top[f.Name]
		if f.grid {
			val = doc.Grid[f.Name]
		}
		if f.Boolean {
			f.On, _ = val.(bool)
		}
		f.Value = flowString(val)
		flds[i] = f
	}
	return flds
}

func flowString(val interface{}) string {
	if list, ok := val.([]interface{}); ok {
		s := make([]string, len(list))
		for i, v := range list {
			s[i] = fmt.Sprint(v)
		}
		return strings.Join(s, ", ")
	}
	if val == nil {
		return ""
	}
	return fmt.Sprint(val)
}

// update config from a form value, lists are comma separated
func setField(conf *sweep.Config, f Field, val string) error {
	if f.list {
		val = "[" + val + "]"
	}
	doc := []byte(f.Name + ": " + val)
	if f.grid {
		return yaml.Unmarshal(doc, &conf.Grid)
	}
	return yaml.Unmarshal(doc, conf)
}

func getLayers(conf *nnet.Config) []Layer {
	layers := make([]Layer, len(conf.Layers))
	for i, l := range conf.Layers {
		layers[i].Index = i
		layers[i].Desc = l.String()
	}
	return layers
}

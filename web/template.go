package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

//go:embed assets/*.html
var assets embed.FS

const sessionName = "fruitnet"

// Template and main menu definition
type Templates struct {
	*template.Template
	Menu     []Link
	Options  []Link
	Dropdown []Link
	Heading  template.HTML
	store    sessions.Store
	log      *zap.SugaredLogger
}

type Link struct {
	Url      string
	Name     string
	Selected bool
	Submit   bool
}

// Parse the embedded templates and initialise main menu, log may be nil.
func NewTemplates(log *zap.SugaredLogger) (*Templates, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &Templates{log: log}
	var err error
	t.Template, err = template.ParseFS(assets, "assets/*.html")
	if err != nil {
		return nil, err
	}
	t.store = sessions.NewCookieStore(securecookie.GenerateRandomKey(32))
	for _, name := range []string{"train", "results", "images", "predict", "config"} {
		t.AddMenuItem(Link{Name: name, Url: "/" + name})
	}
	return t, nil
}

func (t *Templates) Clone() *Templates {
	c := *t
	c.Menu = append([]Link{}, t.Menu...)
	c.Options = append([]Link{}, t.Options...)
	c.Dropdown = nil
	return &c
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(url, key.Url)
	}
	return t
}

func (t *Templates) AddMenuItem(l Link) *Templates {
	t.Menu = append(t.Menu, l)
	return t
}

func (t *Templates) AddOption(l Link) *Templates {
	t.Options = append(t.Options, l)
	return t
}

func (t *Templates) SelectOptions(names []string) *Templates {
	for i, key := range t.Options {
		t.Options[i].Selected = false
		for _, name := range names {
			if key.Name == name {
				t.Options[i].Selected = true
			}
		}
	}
	return t
}

// Exec executes the named template with data, errors are logged and returned to the client.
func (t *Templates) Exec(w http.ResponseWriter, name string, data interface{}) {
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		t.logError(w, err)
	}
}

// Flash adds a message to be shown the next time a page is displayed.
func (t *Templates) Flash(w http.ResponseWriter, r *http.Request, msg string) {
	session, _ := t.store.Get(r, sessionName)
	session.AddFlash(msg)
	if err := session.Save(r, w); err != nil {
		t.log.Errorw("error saving session", "error", err)
	}
}

// Flashes returns and clears any pending messages.
func (t *Templates) Flashes(w http.ResponseWriter, r *http.Request) []string {
	session, _ := t.store.Get(r, sessionName)
	var msgs []string
	for _, f := range session.Flashes() {
		msgs = append(msgs, fmt.Sprint(f))
	}
	if len(msgs) > 0 {
		session.Save(r, w)
	}
	return msgs
}

func (t *Templates) logError(w http.ResponseWriter, err error) {
	t.log.Errorw("request failed", "error", err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}

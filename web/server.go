package web

import (
	"net/http"

	"github.com/gorilla/mux"
)

const (
	thumbWidth = 128
	rows       = 4
	cols       = 6
)

// NewRouter sets up the handlers for each page. If auth is not nil then it is applied to all requests.
func NewRouter(t *Templates, run *Runner, auth *AuthMiddleware) *mux.Router {
	trainPage := NewTrainPage(t.Clone(), run)
	resultsPage := NewResultsPage(t.Clone(), run)
	imagePage := NewImagePage(t.Clone(), run, thumbWidth, rows, cols)
	predictPage := NewPredictPage(t.Clone(), run)
	configPage := NewConfigPage(t.Clone(), run)

	r := mux.NewRouter()
	if auth != nil {
		r.Use(auth.Middleware)
	}
	r.Handle("/", http.RedirectHandler("/train/stats", http.StatusFound))

	r.Handle("/train", http.RedirectHandler("/train/stats", http.StatusFound))
	r.HandleFunc("/train/{cmd:(?:stats|start|stop)}", trainPage.Base())
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.HandleFunc("/results", resultsPage.Base())
	r.HandleFunc("/results.csv", resultsPage.CSV())

	r.Handle("/images", http.RedirectHandler("/images/0", http.StatusFound))
	r.HandleFunc("/images/{class:[0-9]+}", imagePage.Base())
	r.HandleFunc("/images/opt/{opt}", imagePage.Setopt())
	r.HandleFunc("/img/{id:[0-9]+}", imagePage.Image())

	r.HandleFunc("/predict", predictPage.Base()).Methods("GET")
	r.HandleFunc("/predict", predictPage.Upload()).Methods("POST")

	r.HandleFunc("/config", configPage.Base())
	r.HandleFunc("/config/save", configPage.Save()).Methods("POST")
	r.HandleFunc("/config/reset", configPage.Reset())
	return r
}

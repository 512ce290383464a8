package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/num"
	"github.com/jnb666/fruitnet/probe"
	"github.com/jnb666/fruitnet/sweep"
	"github.com/jnb666/fruitnet/web"
	"github.com/spf13/cobra"
)

func NewWebCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the web interface to run sweeps and view the results",
		Args:  cobra.NoArgs,
		RunE:  runWeb,
	}
	f := cmd.Flags()
	f.String("config", "", "sweep config file in YAML or JSON format")
	f.String("train-dir", "", "training image directory, overrides the config file")
	f.String("addr", ":8080", "address to listen on")
	f.String("user", "", "user name for basic auth, no login is required if not set")
	f.String("password", "", "password for basic auth")
	f.String("model", "", "saved model used for predictions until a sweep is run")
	return cmd
}

func runWeb(cmd *cobra.Command, args []string) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	logCPU(log)
	f := cmd.Flags()
	cfg := sweep.DefaultConfig()
	if path, _ := f.GetString("config"); path != "" {
		if cfg, err = sweep.LoadConfig(path); err != nil {
			return err
		}
	}
	if f.Changed("train-dir") {
		cfg.TrainDir, _ = f.GetString("train-dir")
	}
	t, err := web.NewTemplates(log)
	if err != nil {
		return err
	}
	run := web.NewRunner(cfg, log)
	if path, _ := f.GetString("model"); path != "" {
		m, err := nnet.LoadModel(path)
		if err != nil {
			return err
		}
		p, err := probe.FromModel(m, num.NewDevice().NewQueue(cfg.Threads))
		if err != nil {
			return err
		}
		run.SetPredictor(p)
		log.Infow("loaded model", "file", path)
	}
	var auth *web.AuthMiddleware
	if user, _ := f.GetString("user"); user != "" {
		password, _ := f.GetString("password")
		mw := web.NewAuthMiddleware(user, password, log)
		auth = &mw
	}
	addr, _ := f.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: web.NewRouter(t, run, auth)}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		run.Lock()
		run.Stop()
		run.Unlock()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	log.Infow("serving web page", "addr", addr, "auth", auth != nil)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

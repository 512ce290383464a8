package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/jnb666/fruitnet/probe"
	"github.com/jnb666/fruitnet/sweep"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Train a model for each point in the hyperparameter grid",
		Long: `Train the AlexNet classifier on the images under the training directory once for
each combination in the sweep grid. The i'th batch size, optimizer, learning rate
and dropout rate together define trial i. Settings are read from the --config file
if given and then overridden by any flags which are set.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
	f := cmd.Flags()
	f.String("config", "", "sweep config file in YAML or JSON format")
	f.String("train-dir", "", "training image directory with a subdirectory per class")
	f.Int("npix", 0, "image width and height in pixels")
	f.IntSlice("batch", nil, "batch size for each trial")
	f.StringSlice("optimizer", nil, "optimizer for each trial: SGD, Adam, Adamax or Adadelta")
	f.Float64Slice("lr", nil, "learning rate for each trial")
	f.Float64Slice("dropout", nil, "dropout rate for each trial")
	f.Int("epochs", 0, "maximum number of epochs")
	f.Float64("frac", 0, "fraction of the samples to use")
	f.Bool("clean-valid", false, "do not augment the validation images")
	f.Bool("no-early-stop", false, "disable early stopping")
	f.Int64("seed", 0, "random number seed")
	f.Int("threads", 0, "number of worker threads, default is all CPUs")
	f.Bool("profile", false, "print profiling info")
	f.StringToString("set", nil, "extra network settings as Field=value pairs")
	f.String("probe", "", "image to classify with the last trained model")
	f.String("save", "", "save the model with the best validation accuracy to this file")
	f.String("csv", "", "write the results in CSV format to this file")
	return cmd
}

// load config file and apply any flag overrides
func sweepConfig(cmd *cobra.Command) (sweep.Config, error) {
	f := cmd.Flags()
	cfg := sweep.DefaultConfig()
	if path, _ := f.GetString("config"); path != "" {
		var err error
		if cfg, err = sweep.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if f.Changed("train-dir") {
		cfg.TrainDir, _ = f.GetString("train-dir")
	}
	if f.Changed("npix") {
		cfg.Npix, _ = f.GetInt("npix")
	}
	if f.Changed("batch") {
		cfg.Grid.BatchSizes, _ = f.GetIntSlice("batch")
	}
	if f.Changed("optimizer") {
		cfg.Grid.Optimizers, _ = f.GetStringSlice("optimizer")
	}
	if f.Changed("lr") {
		cfg.Grid.LearningRates, _ = f.GetFloat64Slice("lr")
	}
	if f.Changed("dropout") {
		cfg.Grid.Dropouts, _ = f.GetFloat64Slice("dropout")
	}
	if f.Changed("epochs") {
		cfg.Grid.Epochs, _ = f.GetInt("epochs")
	}
	if f.Changed("frac") {
		cfg.Grid.Frac, _ = f.GetFloat64("frac")
	}
	if f.Changed("clean-valid") {
		cfg.CleanValidation, _ = f.GetBool("clean-valid")
	}
	if off, _ := f.GetBool("no-early-stop"); off {
		cfg.EarlyStop = false
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("threads") {
		cfg.Threads, _ = f.GetInt("threads")
	}
	if f.Changed("profile") {
		cfg.Profile, _ = f.GetBool("profile")
	}
	if f.Changed("set") {
		set, _ := f.GetStringToString("set")
		if cfg.Network == nil {
			cfg.Network = map[string]string{}
		}
		for key, val := range set {
			cfg.Network[key] = val
		}
	}
	if f.Changed("debug") {
		cfg.DebugLevel, _ = f.GetInt("debug")
	}
	if cfg.TrainDir == "" {
		return cfg, errors.New("training directory is not set")
	}
	if _, err := cfg.Grid.Points(); err != nil {
		return cfg, err
	}
	return cfg, cfg.CheckNetwork()
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := sweepConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	logCPU(log)
	out := cmd.OutOrStdout()
	cfg.Out, cfg.Log = out, log

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	res, err := sweep.Run(ctx, cfg, func(res sweep.Results) {
		fmt.Fprintln(out)
		res.WriteTable(out)
	})
	if len(res) > 1 {
		if val, train, err := res.Summary(); err == nil {
			fmt.Fprintf(out, "val_acc: %s  train_acc: %s\n", val, train)
		}
	}
	if path, _ := cmd.Flags().GetString("csv"); path != "" && len(res) > 0 {
		if err := writeCSV(path, res); err != nil {
			return err
		}
		log.Infow("wrote results", "file", path)
	}
	if err != nil {
		return err
	}
	if path, _ := cmd.Flags().GetString("save"); path != "" {
		best := res[res.Best()]
		if err := best.Model().Save(path); err != nil {
			return errors.Wrap(err, "error saving model")
		}
		log.Infow("saved model", "file", path, "trial", best.ID, "val_acc", best.ValAcc)
	}
	if path, _ := cmd.Flags().GetString("probe"); path != "" {
		last := res[len(res)-1]
		if err := probe.Probe(out, probe.New(last.Net, last.Classes), path); err != nil {
			log.Errorw("probe failed", "file", path, "error", err)
		}
	}
	return nil
}

func writeCSV(path string, res sweep.Results) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = res.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package main

import (
	"fmt"

	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/num"
	"github.com/jnb666/fruitnet/probe"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict --model FILE IMAGE...",
		Short: "Classify images with a saved model",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPredict,
	}
	cmd.Flags().String("model", "", "model file saved by the sweep command")
	cmd.Flags().Int("threads", 0, "number of worker threads, default is all CPUs")
	cmd.MarkFlagRequired("model")
	return cmd
}

func runPredict(cmd *cobra.Command, args []string) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	path, _ := cmd.Flags().GetString("model")
	threads, _ := cmd.Flags().GetInt("threads")
	m, err := nnet.LoadModel(path)
	if err != nil {
		return errors.Wrapf(err, "error loading model %s", path)
	}
	queue := num.NewDevice().NewQueue(threads)
	p, err := probe.FromModel(m, queue)
	if err != nil {
		return err
	}
	log.Debugw("loaded model", "file", path, "npix", p.Npix(), "classes", p.Classes())
	failed := 0
	for _, file := range args {
		if len(args) > 1 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ", file)
		}
		if err := probe.Probe(cmd.OutOrStdout(), p, file); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "error")
			log.Errorw("predict failed", "file", file, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d images could not be classified", failed, len(args))
	}
	return nil
}

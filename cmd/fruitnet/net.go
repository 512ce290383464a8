package main

import (
	"fmt"

	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/num"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewNetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "net [FILE]",
		Short: "Print the network definition",
		Long: `Print the settings and layers of the AlexNet network for the given image size,
or of the network definition loaded from a JSON FILE. With --save the definition
is written to a JSON file which can be loaded again later.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runNet,
	}
	cmd.Flags().Int("npix", 256, "image width and height in pixels")
	cmd.Flags().Float64("dropout", 0.5, "dropout rate")
	cmd.Flags().Int("batch", 1, "batch size")
	cmd.Flags().String("save", "", "write the network definition to this JSON file")
	return cmd
}

func runNet(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var conf nnet.Config
	var err error
	if len(args) > 0 {
		conf, err = nnet.LoadConfig(args[0])
	} else {
		npix, _ := f.GetInt("npix")
		dropout, _ := f.GetFloat64("dropout")
		conf, err = nnet.AlexNet(npix, dropout)
	}
	if err != nil {
		return err
	}
	if conf.Npix <= 0 || len(conf.Layers) == 0 {
		return errors.New("config has no network definition")
	}
	if path, _ := f.GetString("save"); path != "" {
		if err := conf.Save(path); err != nil {
			return err
		}
	}
	batch, _ := f.GetInt("batch")
	queue := num.NewDevice().NewQueue(1)
	net := nnet.New(queue, conf, batch, []int{conf.Npix, conf.Npix, 3}, nnet.SetSeed(1))
	fmt.Fprintln(cmd.OutOrStdout(), conf)
	fmt.Fprintln(cmd.OutOrStdout(), net)
	return nil
}

package main

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"github.com/jnb666/fruitnet/img"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index DIR",
		Short: "Print the number of images in each class directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndex,
	}
	cmd.Flags().Int("stats", 0, "print the RGB mean and standard deviation of up to this many randomly chosen images")
	cmd.Flags().Int("npix", 64, "image size used for the stats")
	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	samples, err := img.IndexDir(args[0], log)
	if err != nil {
		return err
	}
	counts := img.Counts(samples)
	classes := make([]string, 0, len(counts))
	for class := range counts {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"class", "images"})
	table.SetAutoFormatHeaders(false)
	for _, class := range classes {
		table.Append([]string{class, strconv.Itoa(counts[class])})
	}
	table.SetFooter([]string{"total", strconv.Itoa(len(samples))})
	table.Render()

	if _, err := img.Classes(samples); err != nil {
		log.Warnw("directory cannot be used for training", "error", err)
	}
	if n, _ := cmd.Flags().GetInt("stats"); n > 0 && len(samples) > 0 {
		npix, _ := cmd.Flags().GetInt("npix")
		return printStats(cmd, samples, n, npix)
	}
	return nil
}

// per channel pixel statistics of a random subset of the images
func printStats(cmd *cobra.Command, samples []img.Sample, n, npix int) error {
	if n > len(samples) {
		n = len(samples)
	}
	images := make([]*img.RGBImage, n)
	for i, ix := range rand.Perm(len(samples))[:n] {
		m, err := img.Load(samples[ix].Path, npix, img.Bilinear)
		if err != nil {
			return err
		}
		images[i] = m
	}
	mean, std := img.GetStats(images)
	fmt.Fprintf(cmd.OutOrStdout(), "%d images: mean %.3f  std %.3f\n", n, mean, std)
	return nil
}

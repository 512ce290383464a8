package main

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fruitnet",
		Short:        "Fresh or rotten fruit image classifier",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().Int("debug", 0, "debug logging level")
	cmd.AddCommand(NewSweepCmd(), NewPredictCmd(), NewIndexCmd(), NewNetCmd(), NewWebCmd())
	return cmd
}

// development logger writing to stderr, debug messages are enabled if the --debug flag is set
func newLogger(cmd *cobra.Command) (*zap.SugaredLogger, error) {
	conf := zap.NewDevelopmentConfig()
	conf.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if level, _ := cmd.Flags().GetInt("debug"); level > 0 {
		conf.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	conf.DisableStacktrace = true
	logger, err := conf.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func logCPU(log *zap.SugaredLogger) {
	log.Infow("cpu", "brand", cpuid.CPU.BrandName, "cores", cpuid.CPU.PhysicalCores,
		"threads", runtime.GOMAXPROCS(0), "avx2", cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3))
}

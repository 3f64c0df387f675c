package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xcmyz/bert-race/internal/config"
	"github.com/xcmyz/bert-race/internal/trainer"
	"github.com/xcmyz/bert-race/pkg/logger"
)

const appName = "race"

var usage = heredoc.Doc(`
	[bert-race]
	    Fine-tune a multiple-choice reader on RACE and evaluate it on the dev split.

	Configuration is layered: defaults, then -config YAML, then RACE_* environment
	variables (e.g. RACE_TRAIN_BATCH_SIZE=16), then flags.

	Usage:
	    ./race -data_dir RACE -vocab_file vocab.txt -output_dir out -do_train -do_eval \
	        -do_lower_case -train_batch_size 32 -gradient_accumulation_steps 4 -fp16

	Options Description:
`)

func main() {
	config.RegisterFlags(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(flag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	if err := logger.Init(appName, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	runID := uuid.NewString()
	log.Info().Str("run_id", runID).Int("world_size", cfg.WorldSize).Bool("distributed", cfg.IsDistributed()).Bool("fp16", cfg.FP16).
		Bool("do_train", cfg.DoTrain).Bool("do_eval", cfg.DoEval).Msg("Starting run")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, runID); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, runID string) error {
	container, err := buildContainer(cfg, runID)
	if err != nil {
		return err
	}
	return container.Invoke(func(runner *trainer.Runner, out *outputs) (err error) {
		defer func() {
			if cerr := out.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return runner.Run(ctx)
	})
}

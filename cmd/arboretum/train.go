package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/pseudotensor/arboretum/checkpoints"
	"github.com/pseudotensor/arboretum/training"
)

func trainCmd() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Train an ensemble from a CSV dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Usage: "training CSV", Required: true},
			&cli.StringFlag{Name: "label", Usage: "label column name", Required: true},
			&cli.StringFlag{Name: "config", Usage: "YAML configuration file"},
			&cli.StringFlag{Name: "model", Usage: "output model path", Value: "model.json"},
			&cli.StringFlag{Name: "format", Usage: "model format: json or binary", Value: "json"},
			&cli.IntFlag{Name: "rounds", Usage: "boosting rounds (overrides config)"},
			&cli.IntFlag{Name: "v", Usage: "log verbosity"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setVerbosity(cmd)
			cfg, err := loadConfig(cmd.String("config"))
			if err != nil {
				return err
			}
			if cmd.IsSet("rounds") {
				cfg.Rounds = int(cmd.Int("rounds"))
			}
			format := checkpoints.FormatJSON
			switch cmd.String("format") {
			case "json":
			case "binary":
				format = checkpoints.FormatBinary
			default:
				return errors.Errorf("unknown model format %q", cmd.String("format"))
			}

			m, err := loadMatrix(cmd.String("data"), cmd.String("label"))
			if err != nil {
				return err
			}
			garden, err := training.New(m, cfg.Tree, cfg.Internal)
			if err != nil {
				return err
			}
			defer garden.Release()

			bar := progressbar.Default(int64(cfg.Rounds), "boosting")
			for round := 0; round < cfg.Rounds; round++ {
				if err := garden.GrowTree(); err != nil {
					return err
				}
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			model := checkpoints.FromGarden(garden)
			if err := model.Save(cmd.String("model"), format); err != nil {
				return err
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/pseudotensor/arboretum/checkpoints"
)

func predictCmd() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Score a CSV dataset with a trained model",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Usage: "input CSV", Required: true},
			&cli.StringFlag{Name: "model", Usage: "model path", Required: true},
			&cli.StringFlag{Name: "output", Usage: "output path (default stdout)"},
			&cli.IntFlag{Name: "v", Usage: "log verbosity"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setVerbosity(cmd)
			model, err := checkpoints.Load(cmd.String("model"))
			if err != nil {
				return err
			}
			m, err := loadMatrix(cmd.String("data"), "")
			if err != nil {
				return err
			}
			preds, err := model.Predict(m)
			if err != nil {
				return err
			}

			var sb strings.Builder
			sb.WriteString("prediction\n")
			for _, p := range preds {
				fmt.Fprintf(&sb, "%g\n", p)
			}
			if out := cmd.String("output"); out != "" {
				return os.WriteFile(out, []byte(sb.String()), 0o644)
			}
			_, err = os.Stdout.WriteString(sb.String())
			return err
		},
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	app := &cli.Command{
		Name:  "arboretum",
		Usage: "GPU gradient-boosted decision tree trainer",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "v", Usage: "log verbosity"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			trainCmd(),
			predictCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setVerbosity(cmd *cli.Command) {
	if v := cmd.Int("v"); v > 0 {
		_ = flag.Set("v", fmt.Sprint(v))
	}
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-arkiosk/internal/log"
	"github.com/teslashibe/go-arkiosk/pkg/media"
	"github.com/teslashibe/go-arkiosk/pkg/replay"
	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

func newReplayCommand(opts *options) *cobra.Command {
	var (
		speed        float64
		prepareDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <scenario.toml>",
		Short: "Play a tracking scenario against in-process stands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := replay.LoadScenario(args[0])
			if err != nil {
				return err
			}
			_, cfg, err := opts.loadStands(nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			factory := media.NewFactory(media.Options{PrepareDelay: prepareDelay, Logger: log.L()})
			controller := stand.NewController(factory, stand.Options{
				Logger: log.L(),
				Observer: stand.ObserverFunc(func(e stand.Event) {
					fmt.Fprintf(out, "%s  %-9s %s\n", e.At.Format("15:04:05.000"), e.Kind, e.Identity)
				}),
			})
			if err := controller.Configure(cfg); err != nil {
				return err
			}

			sink := replay.NewLocalSink(controller)
			defer sink.Close()

			runner := replay.NewRunner(sink, replay.RunnerOptions{Speed: speed, Logger: log.L()})
			res, err := runner.Run(cmd.Context(), sc)
			if err != nil {
				return err
			}

			// Let the last preparations land before reporting.
			time.Sleep(prepareDelay + 10*time.Millisecond)
			printSnapshots(out, controller.Snapshot())
			fmt.Fprintf(out, "%s: %d steps, %d batches in %s\n", sc.Name, res.Steps, res.Batches, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed multiplier")
	cmd.Flags().DurationVar(&prepareDelay, "prepare-delay", 50*time.Millisecond, "Simulated media preparation time")
	return cmd
}

func printSnapshots(w io.Writer, snaps []stand.Snapshot) {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, []string{
			string(s.Identity),
			s.Template,
			s.State.String(),
			yesNo(s.Tracked),
			yesNo(s.MediaReady),
			strconv.Itoa(s.Activations),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Stand", "Template", "State", "Tracked", "Media ready", "Activations"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-arkiosk/internal/log"
	"github.com/teslashibe/go-arkiosk/pkg/replay"
)

func newPushCommand() *cobra.Command {
	var (
		url        string
		deviceID   string
		speed      float64
		readyDelay time.Duration
		settle     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "push <scenario.toml>",
		Short: "Play a scenario against a running kiosk as a simulated AR client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := replay.LoadScenario(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := replay.Dial(ctx, url, replay.DeviceOptions{
				ID:         deviceID,
				ReadyDelay: readyDelay,
				Logger:     log.L(),
			})
			if err != nil {
				return err
			}
			defer client.Close()

			runner := replay.NewRunner(client, replay.RunnerOptions{Speed: speed, Logger: log.L()})
			res, err := runner.Run(ctx, sc)
			if err != nil {
				return err
			}

			select {
			case <-time.After(settle):
			case <-client.Done():
				return fmt.Errorf("kiosk closed the connection: %v", client.Err())
			case <-ctx.Done():
				return ctx.Err()
			}

			out := cmd.OutOrStdout()
			printDeviceStands(out, client.Stands())
			fmt.Fprintf(out, "%s: %d steps pushed to %s in %s\n", sc.Name, res.Steps, url, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "Kiosk base URL")
	cmd.Flags().StringVar(&deviceID, "device", "replay", "Device id to connect as")
	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed multiplier")
	cmd.Flags().DurationVar(&readyDelay, "ready-delay", 50*time.Millisecond, "Simulated media preparation time")
	cmd.Flags().DurationVar(&settle, "settle", 200*time.Millisecond, "Wait after the last step before reporting")
	return cmd
}

func printDeviceStands(w io.Writer, stands []replay.DeviceStand) {
	rows := make([][]string, 0, len(stands))
	for _, s := range stands {
		playing := make([]string, 0, len(s.Playing))
		for _, m := range s.Playing {
			playing = append(playing, string(m))
		}
		rows = append(rows, []string{
			string(s.Identity),
			s.Template,
			yesNo(s.Visible),
			dash(strings.Join(playing, ",")),
			fmt.Sprintf("%.2f, %.2f, %.2f", s.Pose.Position.X, s.Pose.Position.Y, s.Pose.Position.Z),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Stand", "Template", "Visible", "Playing", "Position"}, rows, nil))
}

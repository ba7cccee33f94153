package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check [stands.toml]",
		Short: "Validate a stand configuration and list its bindings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, cfg, err := opts.loadStands(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStandConfig(cfg))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d stands OK\n", path, len(cfg))
			return nil
		},
	}
}

func renderStandConfig(cfg stand.Configuration) string {
	rows := make([][]string, 0, len(cfg))
	for _, id := range cfg.Identities() {
		tmpl := cfg[id]
		var video, audio, scale string
		if tmpl.Video != nil {
			video = tmpl.Video.URI
		}
		if tmpl.Audio != nil {
			audio = tmpl.Audio.URI
		}
		if tmpl.Scale != nil {
			factor := tmpl.Scale.Factor
			if factor == 0 {
				factor = 1
			}
			scale = "x" + formatFloat(factor)
			if tmpl.Scale.Stretch {
				scale += " stretch"
			}
		}
		rows = append(rows, []string{string(id), tmpl.Name, dash(video), dash(audio), yesNo(tmpl.Loop), dash(scale)})
	}
	return renderTable([]string{"Image", "Template", "Video", "Audio", "Loop", "Scale"}, rows, nil)
}

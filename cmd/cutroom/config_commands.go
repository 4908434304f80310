package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cutroom/cutroom-agent/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				path = filepath.Join(cfg.DataDir(), config.ConfigFilename)
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Destination (default: <data dir>/config.toml)")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			source := cfg.Source()
			if source == "" {
				source = "(defaults)"
			}
			enc := cfg.Encoder()
			ffmpeg := cfg.FFmpegPath()
			if ffmpeg == "" {
				ffmpeg = "ffmpeg (PATH)"
			}
			ffprobe := cfg.FFprobePath()
			if ffprobe == "" {
				ffprobe = "ffprobe (PATH)"
			}

			rows := [][]string{
				{"config file", source},
				{"port", strconv.Itoa(cfg.Port())},
				{"log level", cfg.LogLevel()},
				{"log format", cfg.LogFormat()},
				{"data dir", cfg.DataDir()},
				{"database", cfg.DBPath()},
				{"exports dir", cfg.ExportsDir()},
				{"ffmpeg", ffmpeg},
				{"ffprobe", ffprobe},
				{"export timeout", cfg.ExportTimeout().String()},
				{"poll interval", cfg.PollInterval().String()},
				{"history size", strconv.Itoa(cfg.HistorySize())},
				{"headless", yesNo(cfg.Headless())},
				{"encoder", fmt.Sprintf("%s/%s crf %d, %s %s", enc.VideoCodec, enc.Preset, enc.CRF, enc.AudioCodec, enc.AudioBitrate)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Setting", "Value"}, rows, nil))
			return nil
		},
	}
}

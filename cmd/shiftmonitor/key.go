package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"shiftmonitor/internal/bucket"
	"shiftmonitor/internal/config"
)

func newKeyCmd() *cobra.Command {
	var (
		machineID string
		shift     string
		at        string
	)
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the bucket key a machine's timeline is stored under",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return printKey(os.Stdout, machineID, shift, at, cfg.Location())
		},
	}
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "machine id (required)")
	cmd.Flags().StringVarP(&shift, "shift", "s", "", "shift label")
	cmd.Flags().StringVar(&at, "at", "", "reference time (RFC3339); defaults to now")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

func printKey(out io.Writer, machineID, shift, at string, loc *time.Location) error {
	ref := time.Now().In(loc)
	if at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		ref = parsed.In(loc)
	}
	_, err := fmt.Fprintln(out, bucket.Resolve(machineID, shift, ref))
	return err
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"shiftmonitor/internal/bucket"
	"shiftmonitor/internal/config"
	"shiftmonitor/internal/kv"
	"shiftmonitor/internal/timeline"
)

func newInspectCmd() *cobra.Command {
	var machineID string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the stored timeline a machine's pointer entry refers to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			backend, err := kv.Open(ctx, kv.Options{
				Driver:        cfg.Store.Driver,
				DataDirectory: cfg.DataDirectory,
				PostgresDSN:   cfg.Store.PostgresDSN,
			})
			if err != nil {
				return err
			}
			defer backend.Close()
			return inspect(ctx, backend, machineID, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "machine id (required)")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

var errNoTimeline = errors.New("no stored timeline")

func inspect(ctx context.Context, store kv.Store, machineID string, out io.Writer) error {
	pointer, ok, err := store.Get(ctx, bucket.PointerKey(machineID))
	if err != nil {
		return fmt.Errorf("read pointer: %w", err)
	}
	if !ok || len(pointer) == 0 {
		return fmt.Errorf("%w for machine %s", errNoTimeline, machineID)
	}
	key := string(pointer)

	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read payload %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w under %s", errNoTimeline, key)
	}
	payload, err := timeline.DecodePayload(raw)
	if err != nil {
		return fmt.Errorf("decode payload %s: %w", key, err)
	}
	if payload.EntityID != machineID {
		return fmt.Errorf("payload under %s belongs to %s", key, payload.EntityID)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(payload)
}

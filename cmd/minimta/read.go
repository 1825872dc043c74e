package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/busybox42/minimta/internal/logging"
	"github.com/busybox42/minimta/internal/store"
	"github.com/spf13/cobra"
)

func newReadCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <recipient>",
		Short: "Print the message stored for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, nil)
			if err != nil {
				return err
			}
			if storeType, _ := cmd.Flags().GetString("store"); storeType != "" {
				cfg.Store.Type = storeType
			}
			if storeDir, _ := cmd.Flags().GetString("store-dir"); storeDir != "" {
				cfg.Store.Dir = storeDir
			}

			st, err := store.New(cfg.StoreConfig(), logging.Discard())
			if err != nil {
				return fmt.Errorf("failed to open message store: %w", err)
			}
			defer st.Close()

			env, err := st.Load(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no message stored for %q", args[0])
			}
			if err != nil {
				return err
			}

			_, err = io.WriteString(cmd.OutOrStdout(), store.FormatRecord(env))
			return err
		},
	}

	cmd.Flags().String("store", "", "message store type (overrides config)")
	cmd.Flags().String("store-dir", "", "directory for the file store (overrides config)")

	return cmd
}

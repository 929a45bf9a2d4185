package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete stored records through the ingest chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, release, err := a.openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer release()

			failed := 0
			for _, id := range args {
				req, err := rt.Pipeline.Delete(cmd.Context(), id)
				if err != nil {
					failed++
				}
				if err := writeOutcome(cmd.OutOrStdout(), "text", describe(id, req, err)); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deletes failed", failed, len(args))
			}
			return nil
		},
	}
}

func newRecordsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect stored records",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the ids of stored records",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				rt, release, err := a.openRuntime(cmd.Context(), false)
				if err != nil {
					return err
				}
				defer release()

				ids, err := rt.Sink.IDs(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Print a stored record as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, release, err := a.openRuntime(cmd.Context(), false)
				if err != nil {
					return err
				}
				defer release()

				stored, err := rt.Sink.Load(cmd.Context(), args[0], rt.Schemas.Current())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stored)
			},
		},
	)
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360/metaingest/record"
	"github.com/c360/metaingest/schema"
)

func newSchemaCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Validate and inspect attribute schemas",
	}

	var output string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the configured schema (built-in taxonomy unless schema.path is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.loadSchema()
			if err != nil {
				return err
			}
			src := schema.SourceOf(s)
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(src); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(src)
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}
	show.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")

	validate := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check schema definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				s, err := schema.NewRegistry(schema.WithLogger(a.logger)).LoadFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tinvalid\t%v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\t%s %s, %d attributes\n", path, s.Name(), s.Version(), s.Len())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d schema files invalid", failed, len(args))
			}
			return nil
		},
	}

	cmd.AddCommand(show, validate)
	return cmd
}

func (a *app) loadSchema() (*record.Schema, error) {
	reg := schema.NewRegistry(schema.WithLogger(a.logger))
	if a.cfg.Schema.Path != "" {
		return reg.LoadFile(a.cfg.Schema.Path)
	}
	return reg.LoadDefault()
}

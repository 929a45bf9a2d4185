package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/service"
)

type ingestOptions struct {
	updateID string
	dryRun   bool
	metrics  bool
	output   string
}

// outcome is one line of ingest output.
type outcome struct {
	Source  string `json:"source"`
	ID      string `json:"id,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
	Result  string `json:"result"`
	Stage   string `json:"stage,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newIngestCommand(a *app) *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Transform documents and ingest them into storage",
		Long: `Reads each file (or stdin when no file or "-" is given), transforms it
into a record, runs the ingest chain and stores the result. Documents are
ingested as creates unless --update names the record to replace.`,
		Example: `  metaingest ingest survey.xml
  metaingest --config metaingest.yaml ingest --output json docs/*.xml
  cat survey.xml | metaingest ingest --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runIngest(cmd, args, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.updateID, "update", "", "replace the stored record with this id (single document)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the transformed records without running the chain")
	f.BoolVar(&opts.metrics, "metrics", false, "serve Prometheus metrics while ingesting")
	f.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	return cmd
}

type document struct {
	name string
	data []byte
}

func readDocuments(stdin io.Reader, args []string) ([]document, error) {
	if len(args) == 0 {
		args = []string{"-"}
	}
	docs := make([]document, 0, len(args))
	for _, name := range args {
		var (
			data []byte
			err  error
		)
		if name == "-" {
			data, err = io.ReadAll(stdin)
			name = "<stdin>"
		} else {
			data, err = os.ReadFile(name)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		docs = append(docs, document{name: name, data: data})
	}
	return docs, nil
}

func (a *app) runIngest(cmd *cobra.Command, args []string, opts *ingestOptions) error {
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}
	// no arguments means one document from stdin
	if n := max(len(args), 1); opts.updateID != "" && n != 1 {
		return fmt.Errorf("--update takes exactly one document, got %d", n)
	}
	docs, err := readDocuments(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, release, err := a.openRuntime(ctx, opts.metrics)
	if err != nil {
		return err
	}
	defer release()

	out := cmd.OutOrStdout()
	if opts.dryRun {
		return a.transformOnly(cmd, rt.Pipeline, docs)
	}

	var results []service.Result
	if opts.updateID != "" {
		req, err := rt.Pipeline.Update(ctx, opts.updateID, bytes.NewReader(docs[0].data))
		results = []service.Result{{Request: req, Err: err}}
	} else {
		readers := make([]io.Reader, len(docs))
		for i, d := range docs {
			readers[i] = bytes.NewReader(d.data)
		}
		results = rt.Pipeline.IngestBatch(ctx, readers)
	}

	failed := 0
	for i, res := range results {
		o := describe(docs[i].name, res.Request, res.Err)
		if res.Err != nil {
			failed++
		}
		if err := writeOutcome(out, opts.output, o); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents not ingested", failed, len(results))
	}
	return nil
}

func (a *app) transformOnly(cmd *cobra.Command, p *service.Pipeline, docs []document) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, d := range docs {
		rec, err := p.Transform(cmd.Context(), bytes.NewReader(d.data))
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func describe(source string, req *ingest.Request, err error) outcome {
	o := outcome{Source: source, Result: "stored"}
	if req != nil {
		o.ID, o.TraceID = req.ID(), req.TraceID()
		if req.Kind() == ingest.KindDelete {
			o.Result = "deleted"
		}
	}
	if err == nil {
		return o
	}
	o.Error = err.Error()
	switch {
	case ingest.IsVetoed(err):
		o.Result = "vetoed"
	case errors.Is(err, errors.ErrIngestTimeout):
		o.Result = "timeout"
	case errors.IsInvalid(err):
		o.Result = "rejected"
	default:
		o.Result = "failed"
	}
	if stage, ok := ingest.FailedStage(err); ok {
		o.Stage = stage
	}
	return o
}

func writeOutcome(w io.Writer, format string, o outcome) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(o)
	}
	line := fmt.Sprintf("%s\t%s\t%s", o.Source, o.ID, o.Result)
	if o.Error != "" {
		line += "\t" + o.Error
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

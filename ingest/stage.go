package ingest

import (
	"context"
	"fmt"
)

// Outcome is the three-way result of a stage.
type Outcome uint8

const (
	// OutcomeContinue passes a (possibly replaced) request to the next stage.
	OutcomeContinue Outcome = iota
	// OutcomeVeto stops the chain without it being a malfunction.
	OutcomeVeto
	// OutcomeFail stops the chain because the stage malfunctioned.
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeVeto:
		return "veto"
	case OutcomeFail:
		return "fail"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Result is returned by Stage.Process.
type Result struct {
	Outcome Outcome
	// Request replaces the current request on Continue. Nil keeps the
	// stage's input.
	Request *Request
	// Reason explains a veto.
	Reason string
	// Err is the cause of a failure.
	Err error
}

// Continue hands req to the next stage.
func Continue(req *Request) Result {
	return Result{Outcome: OutcomeContinue, Request: req}
}

// Veto stops the chain with reason.
func Veto(reason string) Result {
	return Result{Outcome: OutcomeVeto, Reason: reason}
}

// Vetof stops the chain with a formatted reason.
func Vetof(format string, args ...any) Result {
	return Veto(fmt.Sprintf(format, args...))
}

// Fail stops the chain with err.
func Fail(err error) Result {
	if err == nil {
		err = fmt.Errorf("stage failed without a cause")
	}
	return Result{Outcome: OutcomeFail, Err: err}
}

// Stage is one step of the ingest chain. Process receives a copy of the
// current request and may modify and return it.
type Stage interface {
	Name() string
	// Kinds lists the request kinds the stage reacts to. Requests of other
	// kinds pass the stage unmodified.
	Kinds() KindSet
	Process(ctx context.Context, req *Request) Result
}

type funcStage struct {
	name  string
	kinds KindSet
	fn    func(ctx context.Context, req *Request) Result
}

// StageFunc adapts a function to the Stage interface.
func StageFunc(name string, kinds KindSet, fn func(ctx context.Context, req *Request) Result) Stage {
	return &funcStage{name: name, kinds: kinds, fn: fn}
}

func (s *funcStage) Name() string   { return s.name }
func (s *funcStage) Kinds() KindSet { return s.kinds }

func (s *funcStage) Process(ctx context.Context, req *Request) Result {
	return s.fn(ctx, req)
}

// Package filter evaluates CEL conditions against tokenized events.
package filter

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/syntrixbase/chunkdex/internal/codec"
)

// Evaluator matches events against CEL conditions. Conditions see the event
// as the map variable "event" and the window position as "position".
type Evaluator struct {
	env        *cel.Env
	prgCache   map[string]cel.Program
	cacheMutex sync.RWMutex
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("position", cel.UintType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Compile checks that condition parses and yields a bool.
func (e *Evaluator) Compile(condition string) error {
	_, err := e.getProgram(condition)
	return err
}

// Match reports whether the event at position satisfies condition. An empty
// condition matches everything.
func (e *Evaluator) Match(condition string, position uint64, event codec.Data) (bool, error) {
	if condition == "" {
		return true, nil
	}

	prg, err := e.getProgram(condition)
	if err != nil {
		return false, fmt.Errorf("failed to get CEL program: %w", err)
	}

	out, _, err := prg.Eval(map[string]any{
		"event":    event.ToNative(),
		"position": position,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL condition must return boolean, got %T", out.Value())
	}
	return match, nil
}

func (e *Evaluator) getProgram(condition string) (cel.Program, error) {
	e.cacheMutex.RLock()
	prg, ok := e.prgCache[condition]
	e.cacheMutex.RUnlock()
	if ok {
		return prg, nil
	}

	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	// Double check
	if prg, ok := e.prgCache[condition]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL condition must return boolean, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}

	e.prgCache[condition] = prg
	return prg, nil
}

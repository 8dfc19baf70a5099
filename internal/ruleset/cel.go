package ruleset

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

const conditionCostLimit = 10000

// Facts are the lot attributes visible to prohibit_when expressions as the
// `lot` map, alongside `destination`.
type Facts struct {
	ScientificName string
	Genus          string
	OriginCountry  string
	Destination    string
	Use            string
	Pedigree       string
	Quantity       int
	HarvestYear    int
}

func (f Facts) activation() map[string]any {
	return map[string]any{
		"destination": f.Destination,
		"lot": map[string]any{
			"scientific_name": f.ScientificName,
			"genus":           f.Genus,
			"origin":          f.OriginCountry,
			"use":             f.Use,
			"pedigree":        f.Pedigree,
			"quantity":        int64(f.Quantity),
			"harvest_year":    int64(f.HarvestYear),
		},
	}
}

type conditions struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func newConditions() (*conditions, error) {
	env, err := cel.NewEnv(
		cel.Variable("lot", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("destination", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &conditions{env: env, prgCache: make(map[string]cel.Program)}, nil
}

func (c *conditions) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, hit := c.prgCache[expr]
	c.mu.RUnlock()
	if hit {
		return prg, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, hit = c.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
	}
	prg, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(conditionCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	c.prgCache[expr] = prg
	return prg, nil
}

func (c *conditions) compile(expr string) error {
	_, err := c.program(expr)
	return err
}

func (c *conditions) eval(expr string, facts Facts) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(facts.activation())
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expr, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result not bool", expr)
	}
	return val, nil
}

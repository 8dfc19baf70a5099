// Command ledger-check walks every evidence supersession chain in the
// configured store and reports broken links. It exits 1 when any chain is
// broken and 2 when the store cannot be checked. Nothing is repaired.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"seedlot/internal/config"
	"seedlot/internal/core"
	"seedlot/internal/ledger"
)

var exitFunc = os.Exit

type verifier interface {
	VerifyLedger(ctx context.Context) ([]ledger.ChainViolation, error)
}

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print violations as JSON")
	timeout := fs.Duration("timeout", time.Minute, "upper bound for the whole check")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.FromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewRulesEngine())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open store: %v\n", err)
		return 2
	}
	if c, ok := store.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	return check(ctx, core.NewService(store), *asJSON, stdout, stderr)
}

func check(ctx context.Context, v verifier, asJSON bool, stdout, stderr io.Writer) int {
	violations, err := v.VerifyLedger(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify ledger: %v\n", err)
		return 2
	}
	if asJSON {
		if violations == nil {
			violations = []ledger.ChainViolation{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(violations); err != nil {
			return 2
		}
	} else if len(violations) == 0 {
		if _, err := fmt.Fprintln(stdout, "Evidence ledger intact."); err != nil {
			return 2
		}
	} else {
		for _, v := range violations {
			_, _ = fmt.Fprintf(stdout, "%s\t%s\t%s\n", v.EvidenceID, v.Kind, v.Detail)
		}
		_, _ = fmt.Fprintf(stderr, "%d broken supersession link(s)\n", len(violations))
	}
	if len(violations) > 0 {
		return 1
	}
	return 0
}

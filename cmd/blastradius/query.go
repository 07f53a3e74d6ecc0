package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/blastradius"
)

// --- Helpers ---

// openEngine opens the indexed database for the current repo.
func openEngine() (*blastradius.Engine, error) {
	dbPath := resolveDBPath(repoRoot, cfg)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'blastradius index' first)", dbPath)
	}
	return blastradius.New(dbPath, engineOptions()...)
}

// readInput returns the contents of path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// outputResult writes result to stdout in the configured format.
func outputResult(result CLIResult) error {
	return writeResult(os.Stdout, cfg.Format, result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In json and yaml mode the error is written to
// stdout as a CLIResult envelope. Otherwise it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	format := "json"
	if cfg != nil {
		format = cfg.Format
	}
	if format == "text" || format == "markdown" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	_ = writeResult(os.Stdout, format, CLIResult{Command: command, Error: err.Error()})
	return err
}

// --- changes ---

var changesCmd = &cobra.Command{
	Use:   "changes <diff-file|->",
	Short: "List the symbols a unified diff touches",
	Long:  "Maps the hunks of a unified diff onto the functions, methods and classes they overlap. Reads the diff from stdin when the argument is '-'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		diff, err := readInput(args[0])
		if err != nil {
			return outputError("changes", err)
		}
		engine, err := openEngine()
		if err != nil {
			return outputError("changes", err)
		}
		defer engine.Close()

		ids, err := engine.MapDiff(context.Background(), string(diff), "")
		if err != nil {
			return outputError("changes", err)
		}
		if ids == nil {
			ids = []string{}
		}
		return outputResult(CLIResult{Command: "changes", Results: ids})
	},
}

// --- impact ---

var flagDiff string

var impactCmd = &cobra.Command{
	Use:   "impact [identifier...]",
	Short: "List the entry points affected by changed symbols",
	Long:  "Computes the blast radius of the given identifiers, or of the symbols touched by --diff, as the registered entry points that reach them.",
	RunE:  runImpact,
}

func init() {
	impactCmd.Flags().StringVar(&flagDiff, "diff", "", "unified diff file to map ('-' for stdin)")
}

func runImpact(cmd *cobra.Command, args []string) error {
	if flagDiff == "" && len(args) == 0 {
		return outputError("impact", errors.New("requires identifiers or --diff"))
	}
	engine, err := openEngine()
	if err != nil {
		return outputError("impact", err)
	}
	defer engine.Close()

	ctx := context.Background()
	changed := args
	if flagDiff != "" {
		diff, err := readInput(flagDiff)
		if err != nil {
			return outputError("impact", err)
		}
		ids, err := engine.MapDiff(ctx, string(diff), "")
		if err != nil {
			return outputError("impact", err)
		}
		changed = append(changed, ids...)
	}

	res, err := engine.BlastRadius(ctx, changed)
	if err != nil {
		return outputError("impact", err)
	}
	if res == nil {
		res = blastradius.Impact{}
	}
	return outputResult(CLIResult{Command: "impact", Results: res})
}

// --- endpoints ---

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List registered endpoints grouped by handler file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return outputError("endpoints", err)
		}
		defer engine.Close()

		groups, err := engine.Query().Endpoints()
		if err != nil {
			return outputError("endpoints", err)
		}
		out := make([]CLIEndpointGroup, 0, len(groups))
		for _, g := range groups {
			cg := CLIEndpointGroup{File: g.File}
			for _, ep := range g.Endpoints {
				cg.Endpoints = append(cg.Endpoints, CLIEndpoint{
					Signature:      ep.Signature,
					Identifier:     ep.Identifier,
					HasTestPlan:    len(ep.TestPlan) > 0,
					HasPreferences: len(ep.Preferences) > 0,
				})
			}
			out = append(out, cg)
		}
		return outputResult(CLIResult{Command: "endpoints", Results: out})
	},
}

// --- plan / prefs ---

// document is one of the JSON documents stored per endpoint.
type document struct {
	field string
	get   func(*blastradius.QueryBuilder, string) (json.RawMessage, error)
	set   func(*blastradius.QueryBuilder, string, json.RawMessage) error
}

var (
	planDoc = document{
		field: "test_plan",
		get:   (*blastradius.QueryBuilder).TestPlan,
		set:   (*blastradius.QueryBuilder).SetTestPlan,
	}
	prefsDoc = document{
		field: "preferences",
		get:   (*blastradius.QueryBuilder).Preferences,
		set:   (*blastradius.QueryBuilder).SetPreferences,
	}
)

var planCmd = documentCmd("plan", "Read or replace an endpoint's test plan", planDoc)
var prefsCmd = documentCmd("prefs", "Read or replace an endpoint's test preferences", prefsDoc)

// documentCmd builds the get/set command pair for doc.
func documentCmd(use, short string, doc document) *cobra.Command {
	parent := &cobra.Command{Use: use, Short: short}
	command := use

	parent.AddCommand(&cobra.Command{
		Use:   "get <identifier>",
		Short: "Print the stored " + doc.field,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return outputError(command, err)
			}
			defer engine.Close()

			raw, err := doc.get(engine.Query(), args[0])
			if err != nil {
				return outputError(command, err)
			}
			result := CLIDocument{Identifier: args[0], Field: doc.field}
			if raw != nil {
				if err := json.Unmarshal(raw, &result.Value); err != nil {
					return outputError(command, fmt.Errorf("decoding %s: %w", doc.field, err))
				}
			}
			return outputResult(CLIResult{Command: command, Results: result})
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "set <identifier> <json|file|->",
		Short: "Replace the stored " + doc.field,
		Long:  "Stores a JSON document for the endpoint. The value is read from a file when it names one, from stdin when it is '-', and is otherwise taken as literal JSON.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := documentArg(args[1])
			if err != nil {
				return outputError(command, err)
			}
			engine, err := openEngine()
			if err != nil {
				return outputError(command, err)
			}
			defer engine.Close()

			if err := doc.set(engine.Query(), args[0], raw); err != nil {
				return outputError(command, err)
			}
			return outputResult(CLIResult{Command: command, Results: CLIUpdate{Identifier: args[0], Field: doc.field}})
		},
	})
	return parent
}

// documentArg returns the JSON named by arg: stdin for "-", the contents
// of an existing file, or arg itself.
func documentArg(arg string) (json.RawMessage, error) {
	if arg == "-" {
		return readInput(arg)
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return readInput(arg)
	}
	if !json.Valid([]byte(arg)) {
		return nil, fmt.Errorf("invalid JSON %q", arg)
	}
	return json.RawMessage(arg), nil
}

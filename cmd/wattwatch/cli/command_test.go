// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func testTree(called *string, received *[]string) *Command {
	leaf := func(name string) *Command {
		return &Command{
			Name:    name,
			Summary: "run " + name,
			Run: func(args []string) error {
				*called = name
				*received = args
				return nil
			},
		}
	}
	return &Command{
		Name:       "wattwatch",
		HelpOutput: &bytes.Buffer{},
		Subcommands: []*Command{
			leaf("status"),
			{
				Name:        "debug",
				Subcommands: []*Command{leaf("score")},
			},
			leaf("version"),
		},
	}
}

func TestExecuteDispatches(t *testing.T) {
	var called string
	var received []string
	root := testTree(&called, &received)

	if err := root.Execute([]string{"debug", "score", "payload.json"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "score" {
		t.Errorf("dispatched to %q, want score", called)
	}
	if len(received) != 1 || received[0] != "payload.json" {
		t.Errorf("args = %v, want [payload.json]", received)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var socket, target string
	command := &Command{
		Name: "status",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&socket, "socket", "/run/wattwatch/ingest.sock", "status socket")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--socket", "/tmp/x.sock", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if socket != "/tmp/x.sock" {
		t.Errorf("socket = %q", socket)
	}
	if target != "extra" {
		t.Errorf("target = %q", target)
	}
}

func TestExecuteUsageErrors(t *testing.T) {
	flagged := func() *Command {
		return &Command{
			Name: "replay",
			Flags: func() *pflag.FlagSet {
				flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
				flagSet.String("config", "", "config file")
				flagSet.Bool("json", false, "json output")
				return flagSet
			},
			Run: func([]string) error { return nil },
		}
	}

	tests := []struct {
		name     string
		command  *Command
		args     []string
		contains []string
		excludes string
	}{
		{
			name:     "flag typo",
			command:  flagged(),
			args:     []string{"--confg", "x.yaml"},
			contains: []string{"confg", "did you mean --config", "--help"},
		},
		{
			name:     "distant flag",
			command:  flagged(),
			args:     []string{"--zzzzzzzzz"},
			contains: []string{"--help"},
			excludes: "did you mean",
		},
		{
			name:     "command typo",
			command:  &Command{Name: "wattwatch", Subcommands: []*Command{{Name: "status"}, {Name: "replay"}}},
			args:     []string{"replya"},
			contains: []string{`did you mean "replay"`},
		},
		{
			name:     "distant command",
			command:  &Command{Name: "wattwatch", Subcommands: []*Command{{Name: "status"}, {Name: "replay"}}},
			args:     []string{"zzzzzzz"},
			contains: []string{`unknown command "zzzzzzz"`},
			excludes: "did you mean",
		},
		{
			name:     "missing command",
			command:  &Command{Name: "wattwatch", Subcommands: []*Command{{Name: "status"}}},
			args:     nil,
			contains: []string{"requires a command"},
		},
		{
			name:     "flag on flagless command",
			command:  &Command{Name: "version", Run: func([]string) error { return nil }},
			args:     []string{"--json"},
			contains: []string{"takes no flags"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.command.HelpOutput = &bytes.Buffer{}
			err := test.command.Execute(test.args)
			if !errors.Is(err, ErrUsage) {
				t.Fatalf("Execute(%v) = %v, want ErrUsage", test.args, err)
			}
			for _, want := range test.contains {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not contain %q", err, want)
				}
			}
			if test.excludes != "" && strings.Contains(err.Error(), test.excludes) {
				t.Errorf("error %q should not contain %q", err, test.excludes)
			}
		})
	}
}

func TestExecuteHelpGoesToRootOutput(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			var called string
			var received []string
			root := testTree(&called, &received)
			output := &bytes.Buffer{}
			root.HelpOutput = output

			if err := root.Execute([]string{"debug", helpArg}); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if called != "" {
				t.Errorf("help ran %q", called)
			}
			if !strings.Contains(output.String(), "wattwatch debug <command> [flags]") {
				t.Errorf("help output:\n%s", output)
			}
		})
	}
}

func TestPrintHelp(t *testing.T) {
	command := &Command{
		Name:        "wattwatch",
		Description: "Operator tool for the wattwatch ingestion pipeline.",
		Subcommands: []*Command{
			{Name: "status", Summary: "Print ingest daemon counters"},
			{Name: "replay", Summary: "Drive a fixture through the pipeline"},
		},
		Examples: []Example{
			{Description: "Check a running daemon", Command: "wattwatch status --socket /run/wattwatch/ingest.sock"},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Operator tool for the wattwatch ingestion pipeline.",
		"wattwatch <command> [flags]",
		"Commands:",
		"Print ingest daemon counters",
		"Drive a fixture through the pipeline",
		"# Check a running daemon",
		"wattwatch status --socket /run/wattwatch/ingest.sock",
		"Run 'wattwatch <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help missing %q\n\n%s", want, output)
		}
	}
}

func TestPrintHelpWithFlags(t *testing.T) {
	command := &Command{
		Name:  "replay",
		Usage: "wattwatch replay [flags] <fixture>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
			flagSet.String("config", "", "daemon config file")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{"wattwatch replay [flags] <fixture>", "Flags:", "--config", "daemon config file"} {
		if !strings.Contains(output, want) {
			t.Errorf("help missing %q\n\n%s", want, output)
		}
	}
}

func TestFullName(t *testing.T) {
	root := &Command{Name: "wattwatch"}
	debug := &Command{Name: "debug", parent: root}
	score := &Command{Name: "score", parent: debug}

	if got := score.fullName(); got != "wattwatch debug score" {
		t.Errorf("fullName = %q", got)
	}
	if got := root.fullName(); got != "wattwatch" {
		t.Errorf("fullName = %q", got)
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 3}
	coder, ok := err.(interface{ ExitCode() int })
	if !ok || coder.ExitCode() != 3 {
		t.Fatalf("ExitError does not report code 3")
	}
	if err.Error() != "exit code 3" {
		t.Errorf("Error() = %q", err.Error())
	}
}

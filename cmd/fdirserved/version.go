package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

// versionCmd implements subcommands.Command for "version".
type versionCmd struct{}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string         { return "print fdircore's version and exit" }
func (*versionCmd) Usage() string            { return "version: print fdircore's version.\n" }
func (*versionCmd) SetFlags(f *flag.FlagSet) {}

func (*versionCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	fmt.Printf("fdircore version %s\n", version)
	return subcommands.ExitSuccess
}

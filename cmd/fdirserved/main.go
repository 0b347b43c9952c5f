// Command fdirserved is the fdircore server entrypoint: "serve" runs
// the master/slave node described by a TOML config file, "replay-binlog"
// dumps a segment directory's records for offline inspection, and
// "version" prints the build version. Subcommand registration uses a
// flat google/subcommands table built in main.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&serveCmd{}, "")
	subcommands.Register(&replayBinlogCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx, log)))
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/y-yagi/nodachi/internal/config"
	"github.com/y-yagi/nodachi/internal/server"
	"golang.org/x/sync/errgroup"
)

const cmd = "nodachi"

var (
	flags          *flag.FlagSet
	configFilename string
	showVersion    bool

	version = "devel"
)

func main() {
	setFlags()
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func setFlags() {
	flags = flag.NewFlagSet(cmd, flag.ExitOnError)
	flags.BoolVar(&showVersion, "v", false, "print version number")
	flags.StringVar(&configFilename, "c", "", "config file name (.toml, .yaml or .json)")
}

func run(args []string, outStream, errStream io.Writer) (exitCode int) {
	_ = flags.Parse(args[1:])

	exitCode = 0

	if showVersion {
		fmt.Fprintf(outStream, "%s %s (runtime: %s)\n", cmd, version, runtime.Version())
		return
	}

	conf, err := config.ParseConfigfile(configFilename)
	if err != nil {
		fmt.Fprintf(errStream, "parse config file error %+v\n", err)
		exitCode = 1
		return
	}

	s, err := server.New(conf)
	if err != nil {
		fmt.Fprintf(errStream, "load https keys error %+v\n", err)
		exitCode = 1
		return
	}

	ctx, done := context.WithCancel(context.Background())
	defer done()
	g, gctx := errgroup.WithContext(ctx)

	s.Start(g, gctx, done)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		conf.AppLogger.WithError(err).Error("server stopped")
		exitCode = 1
	}

	return
}

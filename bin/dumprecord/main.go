package main

import (
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aaqibdv/platform-system-extras/backend/etm"
	"github.com/aaqibdv/platform-system-extras/backend/symbol"
	"github.com/aaqibdv/platform-system-extras/dumprecord"
)

var (
	symDir      string
	dumpEtmOpts string
)

func init() {
	flag.StringVar(&symDir, "symdir", "", "Look for binaries in a directory recursively")
	flag.StringVar(&dumpEtmOpts, "dump-etm", "", "Dump etm data. A type is one of raw, packet and element")
	flag.Usage = usage
}

func usage() {
	fmt.Println("Usage: dumprecord [options] [record_file]")
	fmt.Println("    Dump different parts of a record file. Default file is perf.data.")
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	cmd := dumprecord.NewCommand()
	if symDir != "" {
		if err := symbol.AddSymbolDir(symDir); err != nil {
			logrus.Fatal(err)
		}
	}
	if dumpEtmOpts != "" {
		if err := etm.ParseDumpOption(dumpEtmOpts, &cmd.EtmDumpOption); err != nil {
			logrus.Fatal(err)
		}
	}

	args := flag.Args()
	if len(args) > 1 {
		logrus.Fatal("too many record files")
	}
	if len(args) == 1 {
		cmd.RecordFilename = args[0]
	}

	if err := cmd.Run(); err != nil {
		logrus.Fatal(err)
	}
}

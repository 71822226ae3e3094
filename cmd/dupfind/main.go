package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "scan":
		err = runScan(os.Args[1])
	case "query":
		err = runQuery(os.Args[1])
	case "rebuild-cache":
		err = runRebuildCache(os.Args[1])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "dupfind: unknown sub-command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "dupfind %s: %s\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `dupfind - content-based duplicate image and video finder

Usage:
	dupfind scan [flags] <root>...
	dupfind query [flags] <path>
	dupfind rebuild-cache [flags]

Run "dupfind <sub-command> --help" for the flags each accepts.
`)
}

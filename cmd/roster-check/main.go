package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/noah-isme/roster-import-api/internal/roster"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run checks every file against one throwaway session so duplicates across
// files are reported the same way the API reports them.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("roster-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		domain   string
		dumpJSON bool
		quiet    bool
	)
	fs.StringVar(&domain, "domain", roster.DefaultEmailDomain, "email domain required for manual entries (informational)")
	fs.BoolVar(&dumpJSON, "json", false, "print the merged roster as JSON")
	fs.BoolVar(&quiet, "q", false, "only print errors")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: roster-check [flags] file.csv [file.csv ...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	session := roster.NewSession(nil, roster.SessionOptions{EmailDomain: domain})
	failed := false
	for _, path := range fs.Args() {
		if !strings.EqualFold(filepath.Ext(path), ".csv") {
			fmt.Fprintf(stderr, "%s: only .csv files are accepted\n", path)
			failed = true
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}

		result, err := session.ImportFile(data)
		if err != nil {
			failed = true
			reportError(stderr, path, err)
			continue
		}
		if quiet {
			continue
		}
		fmt.Fprintf(stdout, "%s: %d added, %d duplicates\n", path, result.Added, result.Duplicates)
		for _, w := range result.Warnings {
			fmt.Fprintf(stdout, "  warning %s\n", w)
		}
	}

	if !quiet {
		fmt.Fprintf(stdout, "%d students ready to import\n", session.Len())
	}
	if dumpJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(session.Roster()); err != nil {
			fmt.Fprintf(stderr, "encode roster: %v\n", err)
			return 1
		}
	}
	if failed {
		return 1
	}
	return 0
}

func reportError(w io.Writer, path string, err error) {
	var batchErr *roster.BatchError
	if errors.As(err, &batchErr) {
		fmt.Fprintf(w, "%s: %d invalid rows\n", path, len(batchErr.Rows))
		for _, row := range batchErr.Rows {
			fmt.Fprintf(w, "  %s\n", row)
		}
		return
	}
	fmt.Fprintf(w, "%s: %v\n", path, err)
}

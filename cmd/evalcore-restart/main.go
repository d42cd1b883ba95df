// Command evalcore-restart opens a restart journal (read-write, through
// cache.OpenJournal, which creates the file and its bucket when missing)
// and lists the evaluation ids it holds, for operator inspection without a
// live run —
// grounded on the original implementation's restart-utility listing
// behavior (see DESIGN.md).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/evalgo-org/evalcore/cache"
)

func main() {
	path := flag.String("journal", "", "path to the restart journal file")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "-journal is required")
		os.Exit(2)
	}

	journal, err := cache.OpenJournal(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening journal: %v\n", err)
		os.Exit(1)
	}
	defer journal.Close()

	pairs, err := journal.ReadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading journal: %v\n", err)
		os.Exit(1)
	}

	for _, p := range pairs {
		status := "ok"
		if p.Response == nil {
			status = "no response"
		}
		fmt.Printf("%d\t%s\t%s\n", p.EvaluationID, p.InterfaceID, status)
	}
	fmt.Fprintf(os.Stderr, "%d record(s)\n", len(pairs))
}

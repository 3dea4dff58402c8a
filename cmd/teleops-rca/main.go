// teleops-rca correlates infrastructure alerts into incidents, generates baseline and
// grounded root-cause analyses and records human review decisions.
//
// Usage:
//
//	teleops-rca serve [--config=<path>]
//	teleops-rca correlate -f <alerts.json>
//	teleops-rca rca baseline|grounded <incident-id>...
//	teleops-rca rca list <incident-id>
//	teleops-rca rca latest <incident-id> [--reasoner=any|baseline|grounded] [--status=<status>]
//	teleops-rca review <artifact-id> --decision=accepted|rejected [--reviewer=<id>] [--note=<text>]
//	teleops-rca audit [--incident=<id>] [--decision=<d>] [--reviewer=<id>]
//	teleops-rca incidents [list|close|overview|alerts]
//	teleops-rca token --subject=<reviewer>
//
// Every command except serve and token runs in-process against the configured store, or
// against a running server when --addr is set.
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

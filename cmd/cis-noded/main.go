// Package main is the single-binary entrypoint for a CIS node: one
// process serving the DAG scheduler, dual-domain memory, skill executor,
// vector search, and federation stack described by internal/node.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cis-project/cis-core/internal/config"
	"github.com/cis-project/cis-core/internal/node"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cis-noded: load config: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cis-noded: start node: %v\n", err)
		os.Exit(1)
	}
	defer n.Close()

	if err := n.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "cis-noded: %v\n", err)
		os.Exit(1)
	}
}

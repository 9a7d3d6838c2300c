// watchflow watches directory trees and runs the workflows, notifications,
// actions, and commands configured for each change.
//
// Usage:
//
//	watchflow run --config watchflow.yaml
//	watchflow validate --config watchflow.yaml
//	watchflow version
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

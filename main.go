// The main package for the reviewetl executable.
package main

import (
	"github.com/JakeFAU/review-pipeline/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

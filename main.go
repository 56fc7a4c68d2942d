// The main package for the recurse-archiver executable.
package main

import (
	"github.com/JakeFAU/recurse-archiver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

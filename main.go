// The main package for the fcw-targeted executable.
package main

import "github.com/Dev-pucci/FCW-Targeted/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

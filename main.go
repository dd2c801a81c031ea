// The main package for the screenshot-service executable.
package main

import (
	"github.com/JakeFAU/screenshot-service/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

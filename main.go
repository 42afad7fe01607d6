// The main package for the crawlwright executable.
package main

import (
	"github.com/JakeFAU/crawlwright/cmd"
)

// main defers all execution to the cobra CLI.
func main() {
	cmd.Execute()
}

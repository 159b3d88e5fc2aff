// The main package for the ccextract executable.
package main

import (
	"os"

	"github.com/JakeFAU/ccextract/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

// The main package for the academy-crawler executable.
package main

import (
	"github.com/JakeFAU/academy-insight-crawler/cmd"
)

func main() {
	cmd.Execute()
}

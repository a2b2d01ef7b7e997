// podlink is a small CLI around the Pod link: it drives the
// authorization flow from a terminal and moves portable state between a
// Pod and stdout/stdin.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

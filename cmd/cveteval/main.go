// Command cveteval imports curriculum histories, reconciles two of them and
// migrates the user data of the old history onto the new one.
package main

import (
	"fmt"
	"os"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cveteval:", err)
		exitFunc(1)
	}
}

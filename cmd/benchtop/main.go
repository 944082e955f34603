/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>
*/

package main

import (
	"github.com/jt05610/benchtop/cmd/benchtop/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

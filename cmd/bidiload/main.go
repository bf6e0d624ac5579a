// Package main is the bidiload command.
package main

import "github.com/liuxd6825/bidiload/cmd"

func main() {
	cmd.Execute()
}

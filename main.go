package main

import "github.com/iksnae/session-repair/cmd"

func main() {
	cmd.Execute()
}

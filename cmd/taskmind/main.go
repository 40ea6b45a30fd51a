package main

import "github.com/taskmind/taskmind/internal/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/marmos91/agentfs/cmd/agentfs/cmd"

func main() {
	cmd.Execute()
}

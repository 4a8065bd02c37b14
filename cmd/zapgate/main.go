package main

import "github.com/zapgate/zapgate/cmd/zapgate/cmd"

func main() {
	cmd.Execute()
}

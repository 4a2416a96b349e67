package main

import "github.com/nexus-im/courier/cmd"

func main() {
	cmd.Execute()
}

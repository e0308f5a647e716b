package main

import "github.com/terraconstructs/rolewarden/cmd/rolewarden/cmd"

func main() {
	cmd.Execute()
}

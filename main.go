package main

import "github.com/nvelluri/parget/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/nextlevelbuilder/chatbridge/cmd"

func main() {
	cmd.Execute()
}

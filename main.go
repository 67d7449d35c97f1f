package main

import "github.com/nextlevelbuilder/glimpse/cmd"

func main() {
	cmd.Execute()
}

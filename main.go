package main

import "github.com/nextlevelbuilder/capclaw/cmd"

func main() {
	cmd.Execute()
}

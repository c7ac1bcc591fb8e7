package main

import "fmt"

var version = "dev"

type CmdVersion struct{}

func (c *CmdVersion) Execute(args []string) error {
	fmt.Printf("%s %s\n", bin, version)
	return nil
}

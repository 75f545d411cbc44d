package main

import "github.com/crystaldolphin/qqadapter/cmd"

func main() {
	cmd.Execute()
}

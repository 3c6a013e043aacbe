package main

import "github.com/chenhao392/rcbm/cmd"

func main() {
	cmd.Execute()
}

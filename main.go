package main

import "zoopixie/cmd"

func main() {
	cmd.Execute()
}

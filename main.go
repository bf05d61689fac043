package main

import "vocebridge/cmd"

func main() {
	cmd.Execute()
}

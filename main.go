package main

import "hlscast/cmd"

func main() {
	cmd.Execute(cmd.RootCmd())
}

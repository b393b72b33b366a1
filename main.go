package main

import "homerobot/cmd"

func main() {
	cmd.Execute()
}

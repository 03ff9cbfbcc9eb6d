package main

import "imgslim/cmd"

func main() {
	cmd.Execute()
}

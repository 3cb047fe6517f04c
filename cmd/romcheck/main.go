package main

import "github.com/anupcshan/romcheck/cmd/romcheck/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/cdmslim/cdmslim/cmd"

func main() {
	cmd.Execute()
}

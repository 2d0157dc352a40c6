package main

import "github.com/novogod/hostbackup/cmd"

func main() {
	cmd.Execute()
}

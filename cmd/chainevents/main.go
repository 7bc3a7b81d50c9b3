package main

import "github.com/vietddude/chainevents/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/vietddude/offerwatch/internal/cli"

func main() {
	cli.Execute()
}

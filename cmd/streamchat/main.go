package main

import "github.com/vietddude/streamchat/internal/cli"

func main() {
	cli.Execute()
}

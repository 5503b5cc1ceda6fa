package main

import "imap2local/internal/cli"

func main() {
	cli.Execute()
}

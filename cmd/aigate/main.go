package main

import "github.com/aigate-dev/aigate/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/phambaophuc/image-relay/internal/cli"

func main() {
	cli.Execute()
}

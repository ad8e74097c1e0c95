package main

import (
	"github.com/dermalens/conductor/internal/cli"
)

func main() {
	cli.Execute()
}

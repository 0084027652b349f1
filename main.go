package main

import (
	"github/tokenvest/go-gateway/cmd"
)

func main() {
	cmd.Execute()
}

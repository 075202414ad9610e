package main

import (
	"os"

	"github.com/nulzo/model-gateway/internal/command"
)

func main() {
	os.Exit(command.Execute())
}

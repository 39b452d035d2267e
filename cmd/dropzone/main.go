package main

import (
	"os"

	"github.com/JonMunkholm/dropzone/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

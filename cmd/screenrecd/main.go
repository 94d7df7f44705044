package main

import (
	"os"

	"github.com/CodeShowOff/ScreenRecorder/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

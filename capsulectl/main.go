package main

import (
	"os"

	"github.com/cloudydesk/provisioning/capsulectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitFailed)
	}
}

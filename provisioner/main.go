package main

import (
	"os"

	"github.com/cloudydesk/provisioning/provisioner/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitFailed)
	}
}

package main

import (
	"os"

	"github.com/NYTimes/probe/server"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		server.Log.WithError(err).Error("command execution failed")
		os.Exit(1)
	}
}

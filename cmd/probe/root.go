package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "probe",
	Short: "probe - health and metrics endpoints on their own ports",
	Long: `probe runs two small HTTP servers: an application server and a metrics
server, each answering GET /health. The two servers share one acceptor group
and one worker group, in swapped roles.`,
	SilenceUsage: true,
}

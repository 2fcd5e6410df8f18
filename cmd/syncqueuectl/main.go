// Command syncqueuectl is the operator CLI: status, health-check, and
// recover-outage-jobs. Each subcommand opens the same durable state
// files a running syncqueued writes, performs one task, and exits. It
// never calls RecordFailure on the circuit breaker; health-check records
// its probe through the recovery scheduler, which calls RecordSuccess
// when the breaker is HALF_OPEN and the probe is healthy.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/syncqueue/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "syncqueuectl",
		Short: "Operator CLI for the sync queue core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config override file")

	root.AddCommand(newStatusCmd())
	root.AddCommand(newHealthCheckCmd())
	root.AddCommand(newRecoverOutageJobsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

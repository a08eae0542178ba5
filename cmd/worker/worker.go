package worker

import "github.com/spf13/cobra"

// NewWorkerCmd returns the parent "worker" command. Each subcommand runs the
// Kafka listeners and the outbox publisher of one service.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a service's listeners and outbox publisher",
	}
	cmd.AddCommand(orderCmd, paymentCmd, restaurantCmd)

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status RECOVERY_ID",
		Short: "Показать прогресс заявки",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := root.client(root.logger(cmd))
			st, err := c.RecoveryStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Заявка %s: %s, %d%%, осталось %s\n",
				st.RecoveryID, st.Status, st.Progress, st.EstimatedTime)
			return nil
		},
	}
}

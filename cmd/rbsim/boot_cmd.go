package main

import (
	"github.com/spf13/cobra"
)

func createBootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Run one reset-time boot decision (UpdateController.OnReset)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			// OnReset itself authenticates whichever image ends up in
			// BOOT and drives the rollback-once-then-halt flow (spec.md
			// Section 4.4 step 3); a non-nil error here means BOOT is
			// unauthenticatable even after rollback and this command
			// must stop rather than report a decision.
			decision, err := a.ctrl.OnReset()
			if err != nil {
				return err
			}

			cmd.Println(decision)
			return nil
		},
	}
	return cmd
}

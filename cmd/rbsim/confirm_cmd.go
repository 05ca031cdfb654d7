package main

import (
	"github.com/spf13/cobra"
)

func createConfirmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm the running TESTING image, committing it as SUCCESS",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.ctrl.ConfirmUpdate(); err != nil {
				return err
			}
			a.log.Decision("confirmed update, BOOT is now SUCCESS")
			cmd.Println("ok")
			return nil
		},
	}
	return cmd
}

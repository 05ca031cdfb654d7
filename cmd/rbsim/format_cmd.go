package main

import (
	"github.com/spf13/cobra"

	"rustboot-go/internal/flashsim"
)

func createFormatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Allocate a fresh, erased flash backing file sized for --board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagBoard == "" || flagFlash == "" {
				return errRequiredFlags
			}
			board, err := loadBoardOnly()
			if err != nil {
				return err
			}
			size := flashExtent(board)
			dev, err := flashsim.Create(flagFlash, int64(size))
			if err != nil {
				return err
			}
			defer dev.Close()
			cmd.Printf("formatted %s: %d bytes, erased\n", flagFlash, size)
			return nil
		},
	}
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rustboot-go/updatecfg"
)

var flagCfgPath string

func createParseCfgCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse-cfg",
		Short: "Parse an updt.txt descriptor and print the boot decision (UpdateCfgParser)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readFileBytes(flagCfgPath)
			if err != nil {
				return err
			}
			d, err := updatecfg.Parse(raw)
			if err != nil {
				return err
			}
			choice := d.Choose()
			slot := d.Slot(choice)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "choice: %s\n", choice)
			fmt.Fprintf(out, "image: %s%s\n", slot.Image, slot.Ext)
			fmt.Fprintf(out, "version: %d\n", slot.Version)
			fmt.Fprintf(out, "status: %s\n", slot.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagCfgPath, "file", "", "path to updt.txt")
	cmd.MarkFlagRequired("file")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rustboot-go/header"
	"rustboot-go/internal/rblog"
)

var flagInspectImage string

func createInspectHeaderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect-header",
		Short: "Parse and print an image's TLV header (HeaderCodec.Parse)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readFileBytes(flagInspectImage)
			if err != nil {
				return err
			}
			v, err := header.Parse(raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "firmware size: %s\n", rblog.ByteSize(uint64(v.FirmwareSize())))
			if ver, ok := v.Version(); ok {
				fmt.Fprintf(out, "version: %d\n", ver)
			}
			if ts, ok := v.Timestamp(); ok {
				fmt.Fprintf(out, "timestamp: %d\n", ts)
			}
			if role, ok := v.Role(); ok {
				fmt.Fprintf(out, "image type role: %d\n", role)
			}
			if algo, ok := v.AuthAlgo(); ok {
				fmt.Fprintf(out, "image type auth algo: %d\n", algo)
			}
			fmt.Fprintf(out, "digest tag: %d\n", v.DigestTag())
			return nil
		},
	}
	cmd.Flags().StringVar(&flagInspectImage, "image", "", "path to the image to inspect")
	cmd.MarkFlagRequired("image")
	return cmd
}

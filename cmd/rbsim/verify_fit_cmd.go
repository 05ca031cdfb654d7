package main

import (
	"github.com/spf13/cobra"

	"rustboot-go/fdt"
)

var (
	flagFitPath       string
	flagFitConfig     string
	flagFitMinVersion uint32
)

func createVerifyFitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-fit",
		Short: "Verify a configuration's signature inside an Image Tree Blob (FitVerifier)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readFileBytes(flagFitPath)
			if err != nil {
				return err
			}
			root, err := loadTrustRoot(flagPubkey)
			if err != nil {
				return err
			}
			r, err := fdt.NewReader(raw)
			if err != nil {
				return err
			}
			v := fdt.NewFitVerifier(r)
			if err := v.Verify(flagFitConfig, root, flagFitMinVersion); err != nil {
				return err
			}
			cmd.Printf("configuration %q verified\n", flagFitConfig)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagFitPath, "itb", "", "path to the ITB to verify")
	cmd.Flags().StringVar(&flagFitConfig, "config", "", "configuration node name, e.g. conf-1")
	cmd.Flags().Uint32Var(&flagFitMinVersion, "min-version", 0, "reject configurations older than this version")
	cmd.MarkFlagRequired("itb")
	cmd.MarkFlagRequired("config")
	return cmd
}

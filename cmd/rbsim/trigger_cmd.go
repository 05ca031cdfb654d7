package main

import (
	"github.com/spf13/cobra"

	"rustboot-go/internal/blobfs"
)

var flagImagePath string
var flagImageDir string
var flagImageName string

func createTriggerUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger-update",
		Short: "Stage a candidate image into UPDATE and run the A/B swap",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			image, err := readCandidate()
			if err != nil {
				return err
			}
			if err := a.ctrl.StageUpdate(image); err != nil {
				a.log.Halt("staging candidate image failed: %v", err)
				return err
			}
			a.log.Decision("staged candidate image into UPDATE")

			if err := a.ctrl.TriggerUpdate(); err != nil {
				a.log.Halt("swap failed: %v", err)
				return err
			}
			a.log.Decision("swap complete, BOOT is now TESTING")
			cmd.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&flagImagePath, "image", "", "path to a signed image file to stage directly")
	cmd.Flags().StringVar(&flagImageDir, "image-dir", "", "directory to load the ITB from via blobfs (uses the board's itb file name)")
	cmd.Flags().StringVar(&flagImageName, "image-name", "", "file name within --image-dir, overriding the board default")
	return cmd
}

func readCandidate() ([]byte, error) {
	if flagImagePath != "" {
		return readFileBytes(flagImagePath)
	}
	board, err := loadBoardOnly()
	if err != nil {
		return nil, err
	}
	name := board.ItbName()
	if flagImageName != "" {
		name = flagImageName
	}
	blob, err := blobfs.Open(flagImageDir, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	return append([]byte{}, blob.Bytes()...), nil
}

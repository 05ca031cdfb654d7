package main

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rustboot-go/header"
	"rustboot-go/internal/boardcfg"
	"rustboot-go/internal/flashsim"
	"rustboot-go/internal/rblog"
	"rustboot-go/partition"
)

// flags shared by every subcommand that touches a simulated flash device.
var (
	flagBoard  string
	flagFlash  string
	flagPubkey string
)

// app bundles the collaborators most subcommands need; openApp builds one
// and the caller tears it down with close when finished.
type app struct {
	board *boardcfg.Board
	dev   *flashsim.Device
	table *partition.Table
	ctrl  *partition.Controller
	root  *header.TrustRoot
	log   *rblog.Logger
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rbsim",
		Short:         "Host simulator for the secure A/B firmware bootloader core",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&flagBoard, "board", "", "path to the board descriptor YAML")
	cmd.PersistentFlags().StringVar(&flagFlash, "flash", "", "path to the simulated flash backing file")
	cmd.PersistentFlags().StringVar(&flagPubkey, "pubkey", "", "path to the PEM-encoded trust root public key")

	cmd.AddCommand(
		createFormatCommand(),
		createBootCommand(),
		createTriggerUpdateCommand(),
		createConfirmCommand(),
		createInspectHeaderCommand(),
		createSignCommand(),
		createVerifyFitCommand(),
		createPatchChosenCommand(),
		createParseCfgCommand(),
	)
	return cmd
}

// openApp wires board descriptor, flash device, partition table,
// controller and trust root together for subcommands that drive a live
// simulation (boot, trigger-update, confirm).
func openApp() (*app, error) {
	if flagBoard == "" || flagFlash == "" {
		return nil, fmt.Errorf("rbsim: --board and --flash are required")
	}
	board, err := boardcfg.Load(flagBoard)
	if err != nil {
		return nil, err
	}
	dev, err := flashsim.Open(flagFlash)
	if err != nil {
		return nil, err
	}
	table, err := partition.New(dev, board.BootGeometry(), board.UpdateGeometry(), board.SwapGeometry())
	if err != nil {
		dev.Close()
		return nil, err
	}

	var root *header.TrustRoot
	if flagPubkey != "" {
		root, err = loadTrustRoot(flagPubkey)
		if err != nil {
			dev.Close()
			return nil, err
		}
	}

	log := rblog.New(false)
	return &app{
		board: board,
		dev:   dev,
		table: table,
		ctrl:  partition.NewController(table, root, log),
		root:  root,
		log:   log,
	}, nil
}

func (a *app) close() {
	a.log.Sync()
	a.dev.Close()
}

// loadTrustRoot parses a PEM-encoded SEC1/PKIX EC public key into a
// header.TrustRoot, the one piece of key-management plumbing spec.md
// leaves to the platform (spec.md Section 1): this CLI's flag-driven
// loader stands in for whatever provisioning step burns the key in on
// real hardware.
func loadTrustRoot(path string) (*header.TrustRoot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbsim: read pubkey %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("rbsim: %s is not PEM-encoded", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rbsim: parse pubkey %s: %w", path, err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("rbsim: %s is not an ECDSA public key", path)
	}
	return header.NewECDSATrustRoot(ecPub.Curve, ecPub.X.Bytes(), ecPub.Y.Bytes())
}

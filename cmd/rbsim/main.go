// Command rbsim is a host-side simulator for the A/B firmware bootloader
// core: it drives PartitionTable, SwapEngine, UpdateController,
// HeaderCodec and FitVerifier against an mmap'd file standing in for
// flash, the way a real target's boot ROM would drive the same
// collaborators against physical NOR/NAND.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

func printBanner() {
	banner := figure.NewFigure("SatLomas", "isometric1", true)
	color.Cyan(banner.String())
	fmt.Println()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printBanner()
		fmt.Fprintf(cmd.OutOrStdout(), "satlomas %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

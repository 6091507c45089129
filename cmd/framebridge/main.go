package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const AppName = "FrameBridge"

// 构建时注入的版本信息
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "framebridge",
		Short: "Bridge captured frames to a remote processing service",
		Long: `FrameBridge captures frames from stereo or camera sources, draws the
tracked hand skeleton into an occlusion mask, and exchanges
JPEG frame/mask pairs with a remote processing service over TCP.
Returned frames are published to the admin API and live preview.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		runCmd(),
		serveCmd(),
		skeletonCmd(),
		versionCmd(),
	)
	return cmd
}

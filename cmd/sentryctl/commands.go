package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the full daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run("get_status", nil)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the live capture session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run("start_session", nil)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the live capture session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run("stop_session", nil)
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run detection on a file",
}

var detectImageCmd = &cobra.Command{
	Use:   "image <path>",
	Short: "Detect and match faces in a photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return detectFile("detect_image", args[0])
	},
}

var detectSketchCmd = &cobra.Command{
	Use:   "sketch <path>",
	Short: "Match a forensic sketch against the face index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return detectFile("detect_sketch", args[0])
	},
}

var detectVideoCmd = &cobra.Command{
	Use:   "video <path>",
	Short: "Stream a recorded video through detection",
	Long: `Starts batch video detection and returns immediately. Per-frame
progress and the final summary arrive on the events topic; use
"sentryctl watch" to follow them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return detectFile("detect_video", args[0])
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the in-flight video detection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run("cancel_video", nil)
	},
}

var intervalCmd = &cobra.Command{
	Use:   "interval <ms>",
	Short: "Change the live detection interval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ms, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("interval must be an integer millisecond count: %w", err)
		}
		return run("set_detect_interval", map[string]interface{}{"interval_ms": ms})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the detection pools and alert history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run("clear_pools", nil)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Gracefully shut the daemon down",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run("shutdown", nil)
	},
}

// detectFile sends a detection command. The daemon opens the file
// itself, so the path is resolved to an absolute one first.
func detectFile(command, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return run(command, map[string]interface{}{"path": abs})
}

func init() {
	detectCmd.AddCommand(detectImageCmd)
	detectCmd.AddCommand(detectSketchCmd)
	detectCmd.AddCommand(detectVideoCmd)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(intervalCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(shutdownCmd)
}

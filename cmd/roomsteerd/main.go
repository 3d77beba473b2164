// Command roomsteerd wires CommandResolver, SteeringQueue, ProactiveDebouncer
// and RoomCommandHandler together into a runnable process: a single room's
// command/steering pipeline driven from a stdin/stdout fake channel, useful
// for manually exercising the pipeline without a real chat transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

var (
	cfgPath string
	room    string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "roomsteerd",
	Short: "roomsteerd — command & steering coordination core",
	Long:  "roomsteerd: prefix parsing, channel-policy resolution, steering-queue serialization, and debounced proactive interjection for a chat-room agent bot.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "room config file (default: rooms.json5 or $ROOMSTEER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&room, "room", "", "room name to serve (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("roomsteerd %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	if v := os.Getenv("ROOMSTEER_CONFIG"); v != "" {
		return v
	}
	return "rooms.json5"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/emitter"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <output.jpg>",
	Short: "Save the next rendered overlay frame to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRequester()
		if err != nil {
			return err
		}
		defer r.close()

		frames := make(chan types.Frame, 1)
		token := r.client.Subscribe(r.topics.frames, 0, func(_ mqtt.Client, msg mqtt.Message) {
			frame, err := emitter.DecodeFrame(msg.Payload())
			if err != nil {
				return
			}
			select {
			case frames <- frame:
			default:
			}
		})
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			return fmt.Errorf("failed to subscribe to frames: %v", token.Error())
		}

		select {
		case frame := <-frames:
			if err := os.WriteFile(args[0], frame.Data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes, seq %d, source %s)\n", args[0], len(frame.Data), frame.Seq, frame.SourceStream)
			return nil
		case <-time.After(r.timeout):
			return fmt.Errorf("no frame arrived within %v (is the daemon running with a broker?)", r.timeout)
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

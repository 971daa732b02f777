package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/emitter"
)

var watchAlertsOnly bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the alert and event topics until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRequester()
		if err != nil {
			return err
		}
		defer r.close()

		if token := r.client.Subscribe(r.topics.alerts, 1, printAlert); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			return fmt.Errorf("failed to subscribe to alerts: %v", token.Error())
		}
		if !watchAlertsOnly {
			if token := r.client.Subscribe(r.topics.events, 0, printEvent); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
				return fmt.Errorf("failed to subscribe to events: %v", token.Error())
			}
		}

		fmt.Fprintf(os.Stderr, "watching %s on %s, Ctrl+C to stop\n", instanceFlag, brokerFlag)
		<-cmd.Context().Done()
		return nil
	},
}

func printAlert(_ mqtt.Client, msg mqtt.Message) {
	var alert emitter.AlertMessage
	if err := json.Unmarshal(msg.Payload(), &alert); err != nil {
		fmt.Printf("%s ALERT %s\n", time.Now().Format(time.TimeOnly), msg.Payload())
		return
	}
	for _, m := range alert.Matches {
		fmt.Printf("%s ALERT %s (%.2f)\n", alert.TS.Local().Format(time.TimeOnly), m.Name, m.Score)
	}
}

func printEvent(_ mqtt.Client, msg mqtt.Message) {
	var ev emitter.EventMessage
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		fmt.Printf("%s event %s\n", time.Now().Format(time.TimeOnly), msg.Payload())
		return
	}
	line := ev.Kind
	if ev.Data != nil {
		if data, err := json.Marshal(ev.Data); err == nil {
			line += " " + string(data)
		}
	}
	fmt.Printf("%s event %s\n", ev.TS.Local().Format(time.TimeOnly), line)
}

func init() {
	watchCmd.Flags().BoolVar(&watchAlertsOnly, "alerts-only", false, "Only print alerts")
	rootCmd.AddCommand(watchCmd)
}

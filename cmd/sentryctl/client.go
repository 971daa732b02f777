package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/control"
)

// topicSet mirrors the daemon's default topic layout for one instance.
type topicSet struct {
	control  string
	response string
	alerts   string
	events   string
	frames   string
}

func topicsFor(instance string) topicSet {
	prefix := "sentry/" + instance
	return topicSet{
		control:  prefix + "/control",
		response: prefix + "/response",
		alerts:   prefix + "/alerts",
		events:   prefix + "/events",
		frames:   prefix + "/frames",
	}
}

// requester performs command round-trips against one sentryd instance.
type requester struct {
	client  mqtt.Client
	topics  topicSet
	timeout time.Duration
}

func newRequester() (*requester, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + brokerFlag)
	opts.SetClientID("sentryctl-" + uuid.New().String()[:8])
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("timeout connecting to broker %s", brokerFlag)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", brokerFlag, err)
	}

	return &requester{
		client:  client,
		topics:  topicsFor(instanceFlag),
		timeout: timeoutFlag,
	}, nil
}

func (r *requester) close() {
	r.client.Disconnect(250)
}

// send publishes one command and waits for the response that echoes its
// correlation id. Responses to other callers' commands pass through the
// same topic and are ignored.
func (r *requester) send(command string, params map[string]interface{}) (*control.Response, error) {
	id := uuid.New().String()
	responses := make(chan control.Response, 1)

	sub := r.client.Subscribe(r.topics.response, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var resp control.Response
		if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
			return
		}
		if resp.ID != id {
			return
		}
		select {
		case responses <- resp:
		default:
		}
	})
	if !sub.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("timeout subscribing to %s", r.topics.response)
	}
	if err := sub.Error(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to response topic: %w", err)
	}
	defer r.client.Unsubscribe(r.topics.response)

	payload, err := json.Marshal(control.Command{ID: id, Command: command, Params: params})
	if err != nil {
		return nil, err
	}
	pub := r.client.Publish(r.topics.control, 1, false, payload)
	if !pub.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("timeout publishing to %s", r.topics.control)
	}
	if err := pub.Error(); err != nil {
		return nil, fmt.Errorf("failed to publish command: %w", err)
	}

	select {
	case resp := <-responses:
		return &resp, nil
	case <-time.After(r.timeout):
		return nil, fmt.Errorf("no response to %s within %v", command, r.timeout)
	}
}

// run performs one command round-trip and prints the outcome.
func run(command string, params map[string]interface{}) error {
	r, err := newRequester()
	if err != nil {
		return err
	}
	defer r.close()

	resp, err := r.send(command, params)
	if err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("%s: %s", command, resp.Error)
	}
	if resp.Data != nil {
		out, err := json.MarshalIndent(resp.Data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Println(command + ": ok")
	}
	return nil
}

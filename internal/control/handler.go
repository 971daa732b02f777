package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/config"
)

// Command represents a control plane command. ID is an optional
// caller-chosen correlation token echoed back in the response.
type Command struct {
	ID      string                 `json:"id,omitempty"`
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	ID         string                 `json:"id,omitempty"`
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// publisher is the slice of the MQTT client used for responses.
// Narrowed so dispatch tests can capture output without a broker.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Handler handles control plane commands
type Handler struct {
	cfg      config.MQTTConfig
	client   mqtt.Client
	pub      publisher
	commands chan Command

	callbacks CommandCallbacks
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus         func() map[string]interface{}
	OnStartSession      func() error
	OnStopSession       func() error
	OnDetectImage       func(path string) (map[string]interface{}, error)
	OnDetectSketch      func(path string) (map[string]interface{}, error)
	OnDetectVideo       func(path string) error
	OnCancelVideo       func() error
	OnSetDetectInterval func(intervalMS int) error
	OnClearPools        func() error
	OnShutdown          func() error
}

// NewHandler creates a new control plane handler
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		pub:       client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start subscribes to the control topic and begins processing
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	// Process commands
	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	topic := h.cfg.Topics.Control

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.Wait()
	}

	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command, "id", cmd.ID)

	// Send to processing channel
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	var resp Response
	resp.ID = cmd.ID
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "start_session":
		if h.callbacks.OnStartSession != nil {
			if err := h.callbacks.OnStartSession(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"session_active": true,
					"message":        "live capture session started",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "start_session not implemented"
		}

	case "stop_session":
		if h.callbacks.OnStopSession != nil {
			if err := h.callbacks.OnStopSession(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"session_active": false,
					"message":        "live capture session stopped",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "stop_session not implemented"
		}

	case "detect_image":
		if h.callbacks.OnDetectImage != nil {
			path, ok := cmd.Params["path"].(string)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'path' parameter (expected string)"
			} else {
				result, err := h.callbacks.OnDetectImage(path)
				if err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = result
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "detect_image not implemented"
		}

	case "detect_sketch":
		if h.callbacks.OnDetectSketch != nil {
			path, ok := cmd.Params["path"].(string)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'path' parameter (expected string)"
			} else {
				result, err := h.callbacks.OnDetectSketch(path)
				if err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = result
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "detect_sketch not implemented"
		}

	case "detect_video":
		if h.callbacks.OnDetectVideo != nil {
			path, ok := cmd.Params["path"].(string)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'path' parameter (expected string)"
			} else {
				if err := h.callbacks.OnDetectVideo(path); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"video_started": true,
						"path":          path,
						"message":       "video detection streaming, progress on events topic",
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "detect_video not implemented"
		}

	case "cancel_video":
		if h.callbacks.OnCancelVideo != nil {
			if err := h.callbacks.OnCancelVideo(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"video_cancelled": true,
					"message":         "video detection cancelled",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "cancel_video not implemented"
		}

	case "set_detect_interval":
		if h.callbacks.OnSetDetectInterval != nil {
			// JSON numbers decode as float64
			intervalMS, ok := cmd.Params["interval_ms"].(float64)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'interval_ms' parameter (expected number)"
			} else {
				if err := h.callbacks.OnSetDetectInterval(int(intervalMS)); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"detect_interval_ms": int(intervalMS),
						"message":            "detection interval updated",
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "set_detect_interval not implemented"
		}

	case "clear_pools":
		if h.callbacks.OnClearPools != nil {
			if err := h.callbacks.OnClearPools(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"pools_cleared": true,
					"message":       "detection pools and alert history cleared",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "clear_pools not implemented"
		}

	case "shutdown":
		if h.callbacks.OnShutdown != nil {
			slog.Warn("shutdown command received via MQTT control plane")
			resp.Status = "success"
			resp.Data = map[string]interface{}{
				"shutdown_initiated": true,
				"message":            "graceful shutdown in progress",
			}
			// Send response BEFORE triggering shutdown
			h.sendResponse(resp)

			// Trigger shutdown asynchronously
			go func() {
				time.Sleep(500 * time.Millisecond) // Brief delay to ensure response is sent
				if err := h.callbacks.OnShutdown(); err != nil {
					slog.Error("shutdown callback failed", "error", err)
				}
			}()
			return // Don't send response again
		} else {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
		}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// sendResponse publishes a response to the response topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.Topics.Response
	qos := h.cfg.QoS["response"]

	token := h.pub.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

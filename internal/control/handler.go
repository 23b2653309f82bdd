package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/postura/internal/config"
	"github.com/care/postura/internal/emitter"
	"github.com/care/postura/internal/types"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnStartCamera   func(ctx context.Context) error
	OnStartClip     func(ctx context.Context, path string) error
	OnStop          func() error
	OnGetStatus     func() map[string]interface{}
	OnSubmitOutcome func(o types.SessionOutcome) error
	OnShutdown      func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   emitter.Client
	commands chan Command

	callbacks CommandCallbacks

	// starts tracks start commands, which may block on acquisition and so
	// run beside the command loop; a stop must not queue behind them.
	starts sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client emitter.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and waits for in-flight start commands.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.commands)
	h.mu.Unlock()

	if h.client != nil && h.client.IsConnected() {
		h.client.Unsubscribe(h.cfg.MQTT.Topics.Control).WaitTimeout(2 * time.Second)
	}
	h.starts.Wait()

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	h.receive(msg.Payload())
}

func (h *Handler) receive(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
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
			h.handleCommand(ctx, cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(ctx context.Context, cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "start_camera":
		if h.callbacks.OnStartCamera == nil {
			resp.fail("start_camera not implemented")
			break
		}
		h.async(func() Response {
			if err := h.callbacks.OnStartCamera(ctx); err != nil {
				resp.fail(err.Error())
				return resp
			}
			resp.Status = "success"
			resp.Data = map[string]interface{}{"mode": "camera"}
			return resp
		})
		return

	case "start_clip":
		if h.callbacks.OnStartClip == nil {
			resp.fail("start_clip not implemented")
			break
		}
		path, ok := cmd.Params["path"].(string)
		if !ok || path == "" {
			resp.fail("missing or invalid 'path' parameter (expected string)")
			break
		}
		h.async(func() Response {
			if err := h.callbacks.OnStartClip(ctx, path); err != nil {
				resp.fail(err.Error())
				return resp
			}
			resp.Status = "success"
			resp.Data = map[string]interface{}{"mode": "clip", "path": path}
			return resp
		})
		return

	case "stop":
		if h.callbacks.OnStop == nil {
			resp.fail("stop not implemented")
			break
		}
		if err := h.callbacks.OnStop(); err != nil {
			resp.fail(err.Error())
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"mode": "idle"}

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.fail("get_status not implemented")
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "submit_outcome":
		if h.callbacks.OnSubmitOutcome == nil {
			resp.fail("submit_outcome not implemented")
			break
		}
		outcome, err := parseOutcome(cmd.Params)
		if err != nil {
			resp.fail(err.Error())
			break
		}
		if err := h.callbacks.OnSubmitOutcome(outcome); err != nil {
			resp.fail(err.Error())
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"difficulty": string(outcome.Difficulty), "pain": outcome.Pain}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.fail("shutdown not implemented")
			break
		}
		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Respond before shutting down; the transport goes with it.
		h.sendResponse(resp)
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.fail(fmt.Sprintf("unknown command: %s", cmd.Command))
	}

	h.sendResponse(resp)
}

func (h *Handler) async(run func() Response) {
	h.starts.Add(1)
	go func() {
		defer h.starts.Done()
		h.sendResponse(run())
	}()
}

func (r *Response) fail(msg string) {
	r.Status = "error"
	r.Error = msg
}

// parseOutcome reads a session outcome from command params.
func parseOutcome(params map[string]interface{}) (types.SessionOutcome, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return types.SessionOutcome{}, fmt.Errorf("invalid outcome params: %w", err)
	}
	var o types.SessionOutcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return types.SessionOutcome{}, fmt.Errorf("invalid outcome params: %w", err)
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	// Session and exercise ids may be filled in by the service.
	if !o.Difficulty.Valid() {
		return types.SessionOutcome{}, fmt.Errorf("invalid difficulty %q", o.Difficulty)
	}
	return o, nil
}

// responseTopic is where command acknowledgements are published.
func (h *Handler) responseTopic() string {
	return h.cfg.MQTT.Topics.Control + "/response"
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.responseTopic(), h.cfg.MQTT.QoS["control"], false, payload)
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

package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"floorview/telemetry"
)

// CommandRequest is a manual command pushed onto the command queue.
type CommandRequest struct {
	RequestID string       `json:"request_id,omitempty"`
	Register  telemetry.ID `json:"register"`
	Value     float64      `json:"value"`
	Note      string       `json:"note"`
	Type      string       `json:"command_type,omitempty"`
}

// CommandResponse is published on the response channel for every request.
type CommandResponse struct {
	Factory   string       `json:"factory"`
	RequestID string       `json:"request_id,omitempty"`
	Register  telemetry.ID `json:"register"`
	Value     float64      `json:"value"`
	Success   bool         `json:"success"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// CommandHandler submits a command and returns the backend's message.
type CommandHandler func(ctx context.Context, req CommandRequest) (string, error)

// SetCommandHandler sets the callback that executes queued commands.
func (p *Publisher) SetCommandHandler(h CommandHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commandHandler = h
}

// commandListener pops requests off the command queue until stop is closed.
func (p *Publisher) commandListener(client *redis.Client, stop chan struct{}) {
	defer p.wg.Done()

	queueKey := p.builder.ValkeyCommandQueue()
	responseChannel := p.builder.ValkeyCommandResponseChannel()
	debugLog("Listening for commands on %s", queueKey)

	for {
		select {
		case <-stop:
			return
		default:
		}

		// Block waiting for requests, with a timeout for checking stop
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		result, err := client.BLPop(ctx, 1*time.Second, queueKey).Result()
		cancel()

		if err != nil {
			if !errors.Is(err, redis.Nil) && !errors.Is(err, context.DeadlineExceeded) {
				debugLog("Valkey command queue error: %v", err)
				select {
				case <-stop:
					return
				case <-time.After(500 * time.Millisecond):
				}
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		resp := p.processCommand([]byte(result[1]))
		data, _ := json.Marshal(resp)
		pubCtx, pubCancel := context.WithTimeout(context.Background(), 2*time.Second)
		client.Publish(pubCtx, responseChannel, data)
		pubCancel()
	}
}

// processCommand parses and executes one queued request.
func (p *Publisher) processCommand(raw []byte) CommandResponse {
	resp := CommandResponse{
		Factory:   p.builder.ValkeyFactory(),
		Timestamp: time.Now().UTC(),
	}

	var req CommandRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		resp.Error = "invalid command request: " + err.Error()
		debugLog("Failed to parse command request: %v", err)
		return resp
	}
	resp.RequestID = req.RequestID
	resp.Register = req.Register
	resp.Value = req.Value

	p.mu.RLock()
	handler := p.commandHandler
	p.mu.RUnlock()

	switch {
	case req.Register == "":
		resp.Error = "register is required"
	case handler == nil:
		resp.Error = "no command handler configured"
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		msg, err := handler(ctx, req)
		cancel()
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
			resp.Message = msg
		}
	}

	debugLog("Valkey command %s = %v -> success=%v", req.Register, req.Value, resp.Success)
	return resp
}

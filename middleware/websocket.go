package middleware

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// WebSocketValidator checks inbound control-frame shape before a gateway
// session acts on it.
//
// Adapted from the reference's WebSocketValidator: same size-cap and
// JSON-shape checks, but validating the `type` field this module's
// control protocol actually uses instead of the reference's `message`
// field, and dropped the conn.WriteJSON helpers (SendError/SendSuccess)
// since gateway sessions write through their own control channel, not
// directly to the connection.
type WebSocketValidator struct {
	logger   *zap.Logger
	maxBytes int
}

func NewWebSocketValidator(logger *zap.Logger, maxBytes int) *WebSocketValidator {
	return &WebSocketValidator{logger: logger, maxBytes: maxBytes}
}

// ValidateMessage parses a control frame and checks it carries a
// non-empty "type" field.
func (v *WebSocketValidator) ValidateMessage(message []byte) (map[string]any, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if v.maxBytes > 0 && len(message) > v.maxBytes {
		return nil, fmt.Errorf("message too large: %d bytes", len(message))
	}

	var data map[string]any
	if err := json.Unmarshal(message, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	typeField, exists := data["type"]
	if !exists {
		return nil, fmt.Errorf("missing required field 'type'")
	}
	if s, ok := typeField.(string); !ok || s == "" {
		return nil, fmt.Errorf("field 'type' must be a non-empty string")
	}

	return data, nil
}

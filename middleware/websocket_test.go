package middleware

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestValidateMessageAcceptsWellFormedFrame(t *testing.T) {
	v := NewWebSocketValidator(zap.NewNop(), 512)
	data, err := v.ValidateMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("ValidateMessage: %v", err)
	}
	if data["type"] != "ping" {
		t.Fatalf("data[type] = %v, want ping", data["type"])
	}
}

func TestValidateMessageRejectsEmptyMessage(t *testing.T) {
	v := NewWebSocketValidator(zap.NewNop(), 512)
	if _, err := v.ValidateMessage(nil); err == nil {
		t.Fatalf("expected an error for an empty message")
	}
}

func TestValidateMessageRejectsOversizedMessage(t *testing.T) {
	v := NewWebSocketValidator(zap.NewNop(), 8)
	if _, err := v.ValidateMessage([]byte(`{"type":"ping"}`)); err == nil {
		t.Fatalf("expected an error for a message over the byte cap")
	}
}

func TestValidateMessageRejectsInvalidJSON(t *testing.T) {
	v := NewWebSocketValidator(zap.NewNop(), 512)
	if _, err := v.ValidateMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected an error for invalid JSON")
	}
}

func TestValidateMessageRejectsMissingTypeField(t *testing.T) {
	v := NewWebSocketValidator(zap.NewNop(), 512)
	_, err := v.ValidateMessage([]byte(`{"foo":"bar"}`))
	if err == nil || !strings.Contains(err.Error(), "type") {
		t.Fatalf("err = %v, want a missing 'type' field error", err)
	}
}

func TestValidateMessageRejectsEmptyTypeField(t *testing.T) {
	v := NewWebSocketValidator(zap.NewNop(), 512)
	if _, err := v.ValidateMessage([]byte(`{"type":""}`)); err == nil {
		t.Fatalf("expected an error for an empty 'type' field")
	}
}

func TestValidateMessageRejectsNonStringTypeField(t *testing.T) {
	v := NewWebSocketValidator(zap.NewNop(), 512)
	if _, err := v.ValidateMessage([]byte(`{"type":42}`)); err == nil {
		t.Fatalf("expected an error when 'type' is not a string")
	}
}

func TestValidateMessageMaxBytesZeroDisablesSizeCap(t *testing.T) {
	v := NewWebSocketValidator(zap.NewNop(), 0)
	if _, err := v.ValidateMessage([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ValidateMessage: %v", err)
	}
}

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"command":"login","username":"alice","password":"secret"}`))
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	if req.Command != CmdLogin || req.Username != "alice" || req.Password != "secret" {
		t.Errorf("Unexpected request: %+v", req)
	}
}

func TestParseRequestRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		"not json at all",
		`"just a string"`,
		`{}`,
		`{"username":"alice"}`, // no command
	} {
		if _, err := ParseRequest([]byte(line)); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("Line %q: expected ErrInvalidFrame, got %v", line, err)
		}
	}
}

func TestMarshalFrames(t *testing.T) {
	frame := Marshal(Success("ok"))
	if !bytes.HasSuffix(frame, []byte("\n")) {
		t.Error("Frame is not newline-terminated")
	}

	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		t.Fatalf("Frame does not round-trip: %v", err)
	}
	if resp.Status != StatusSuccess || resp.Message != "ok" {
		t.Errorf("Unexpected envelope: %+v", resp)
	}
}

// Clients distinguish pushes from responses by shape, so an event must
// carry "type" and never "status".
func TestEventShape(t *testing.T) {
	var fields map[string]string

	frame := Marshal(GroupMessage("G", "alice", "hi"))
	if err := json.Unmarshal(frame, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if fields["type"] != EventGroupMessage || fields["group"] != "G" {
		t.Errorf("Unexpected event fields: %v", fields)
	}
	if _, ok := fields["status"]; ok {
		t.Error("Event carries a status field; clients cannot tell it from a response")
	}

	frame = Marshal(DirectMessage("alice", "hi"))
	fields = nil
	if err := json.Unmarshal(frame, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if fields["type"] != EventChatMessage {
		t.Errorf("Unexpected event fields: %v", fields)
	}
	if _, ok := fields["group"]; ok {
		t.Error("Direct message carries a group field")
	}
}

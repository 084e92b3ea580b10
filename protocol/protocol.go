// Package protocol defines the wire contract: one JSON object per
// newline-terminated line, in both directions. Requests are tagged by
// "command". Server → client traffic is either a status envelope
// (Response) or an asynchronous push (Event); clients tell them apart
// by shape — envelopes carry "status", pushes carry "type".
package protocol

import (
	"encoding/json"
	"errors"
)

// Commands accepted by the server.
const (
	CmdRegister    = "register"
	CmdLogin       = "login"
	CmdListAll     = "list_all"
	CmdSelectChat  = "select_chat"
	CmdSendMessage = "send_message"
	CmdCreateGroup = "create_group"
	CmdAddMember   = "add_member_to_group"
	CmdLeaveChat   = "leave_chat"
)

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusInfo    = "info"
)

// Push event types.
const (
	EventChatMessage  = "chat_message"
	EventGroupMessage = "group_message"
)

var ErrInvalidFrame = errors.New("invalid frame")

// Request is one client frame. Command selects the variant; fields not
// used by that variant stay empty.
type Request struct {
	Command     string `json:"command"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TargetUser  string `json:"target_user,omitempty"`
	TargetGroup string `json:"target_group,omitempty"`
	Message     string `json:"message,omitempty"`
	GroupName   string `json:"group_name,omitempty"`
	UserToAdd   string `json:"user_to_add,omitempty"`
}

type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Event struct {
	Type    string `json:"type"`
	Group   string `json:"group,omitempty"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// ParseRequest decodes one line. A frame that is not a JSON object or
// has no command is a protocol error; callers terminate on it.
func ParseRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, ErrInvalidFrame
	}
	if req.Command == "" {
		return nil, ErrInvalidFrame
	}
	return &req, nil
}

// Marshal frames v for the stream, newline included.
func Marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only fixed struct shapes reach here; they always marshal.
		panic(err)
	}
	return append(b, '\n')
}

func Success(message string) Response {
	return Response{Status: StatusSuccess, Message: message}
}

func Error(message string) Response {
	return Response{Status: StatusError, Message: message}
}

func Info(message string) Response {
	return Response{Status: StatusInfo, Message: message}
}

func DirectMessage(sender, message string) Event {
	return Event{Type: EventChatMessage, Sender: sender, Message: message}
}

func GroupMessage(group, sender, message string) Event {
	return Event{Type: EventGroupMessage, Group: group, Sender: sender, Message: message}
}

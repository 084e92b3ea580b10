package models

import "time"

type User struct {
	Username     string
	PasswordHash string // "hex(salt):hex(key)" PBKDF2 record
}

type Group struct {
	Name    string
	Members []string
}

// OfflineMessage is a direct message queued for a receiver who was not
// connected at send time. The whole queue for a receiver is drained
// exactly once, at that receiver's next login.
type OfflineMessage struct {
	ID        int64
	Sender    string
	Receiver  string
	Body      string
	Timestamp time.Time
}

type ContextKind string

const (
	ContextUser  ContextKind = "user"
	ContextGroup ContextKind = "group"
)

// ChatContext is the currently selected target for send_message:
// either a direct-message peer or a group the user belongs to.
type ChatContext struct {
	Kind   ContextKind
	Target string
}

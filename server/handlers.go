package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatd/auth"
	"chatd/groups"
	"chatd/metrics"
	"chatd/models"
	"chatd/protocol"
)

func (s *Server) handleRegister(ctx context.Context, sess *session, req *protocol.Request) {
	if req.Username == "" || req.Password == "" {
		sess.sendResponse(protocol.Error("Username and password are required."))
		return
	}

	err := s.auth.Register(ctx, req.Username, req.Password)
	if errors.Is(err, auth.ErrUsernameTaken) {
		sess.sendResponse(protocol.Error("Username already exists."))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("register failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return
	}

	metrics.RegistrationsTotal.Inc()
	sess.sendResponse(protocol.Success("Registration successful! Please log in."))
}

// handleLogin returns the bound username on success, "" otherwise. The
// caller stays in the Authenticating state on "".
func (s *Server) handleLogin(ctx context.Context, sess *session, req *protocol.Request) string {
	if req.Username == "" || req.Password == "" {
		sess.sendResponse(protocol.Error("Username and password are required."))
		return ""
	}

	err := s.auth.Authenticate(ctx, req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		sess.sendResponse(protocol.Error("Invalid username or password."))
		return ""
	}
	if err != nil {
		s.log.Error().Err(err).Msg("login failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return ""
	}

	if err := s.registry.tryBind(req.Username, sess); err != nil {
		sess.sendResponse(protocol.Error("This user is already logged in."))
		return ""
	}

	metrics.LoginsTotal.Inc()
	s.log.Info().Str("user", req.Username).Msg("user logged in")
	sess.sendResponse(protocol.Success("Login successful! Welcome, " + req.Username + "."))
	return req.Username
}

// drainOffline delivers the queued messages, oldest first, each as a
// regular chat_message push. The fetch-and-delete happened atomically
// in the store, so a send racing the drain is either in this batch or
// still queued for the next login — never both, never neither.
func (s *Server) drainOffline(ctx context.Context, sess *session, username string) error {
	messages, err := s.store.DrainOfflineMessages(ctx, username)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	// Writes are synchronous here. The queue rows are already deleted,
	// so a frame that dies in the outbound buffer of a stalled peer
	// would be gone for good; an undelivered message goes back to the
	// store instead.
	if !sess.sendSync(protocol.Marshal(protocol.Info("You have new messages!"))) {
		return s.requeueOffline(ctx, messages)
	}
	for i, m := range messages {
		if !sess.sendSync(protocol.Marshal(protocol.DirectMessage(m.Sender, m.Body))) {
			return s.requeueOffline(ctx, messages[i:])
		}
		metrics.MessagesDrained.Inc()
	}

	return nil
}

// requeueOffline puts the undelivered tail of a drain back in the
// queue, preserving order and the original timestamps.
func (s *Server) requeueOffline(ctx context.Context, messages []models.OfflineMessage) error {
	for _, m := range messages {
		if err := s.store.SaveOfflineMessage(ctx, m.Sender, m.Receiver, m.Body, m.Timestamp); err != nil {
			return err
		}
		metrics.MessagesQueued.Inc()
	}
	return nil
}

func (s *Server) handleListAll(ctx context.Context, sess *session, username string) {
	users, err := s.store.AllUsers(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list_all failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return
	}

	memberships, err := s.groups.GroupsFor(ctx, username)
	if err != nil {
		s.log.Error().Err(err).Msg("list_all failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return
	}

	// Online flags are a snapshot taken at response time; they may be
	// stale by the time the client reads them.
	online := s.registry.onlineSet()

	var b strings.Builder
	b.WriteString("--- USERS ---")
	for _, u := range users {
		b.WriteString("\n- " + u)
		if _, ok := online[u]; ok {
			b.WriteString(" (online)")
		} else {
			b.WriteString(" (offline)")
		}
	}

	b.WriteString("\n\n--- MY GROUPS ---")
	if len(memberships) == 0 {
		b.WriteString("\nYou are not in any groups.")
	} else {
		for _, g := range memberships {
			b.WriteString("\n- " + g)
		}
	}

	sess.sendResponse(protocol.Info(b.String()))
}

func (s *Server) handleSelectChat(ctx context.Context, sess *session, username string, req *protocol.Request) {
	switch {
	case req.TargetUser != "":
		exists, err := s.store.UserExists(ctx, req.TargetUser)
		if err != nil {
			s.log.Error().Err(err).Msg("select_chat failed")
			sess.sendResponse(protocol.Error("Internal error, try again later."))
			return
		}
		if !exists {
			sess.sendResponse(protocol.Error("User '" + req.TargetUser + "' not found."))
			return
		}

		// No online requirement: messages to an offline peer queue up.
		s.registry.setContext(username, models.ChatContext{Kind: models.ContextUser, Target: req.TargetUser})
		sess.sendResponse(protocol.Success("Private chat with '" + req.TargetUser + "' started."))

	case req.TargetGroup != "":
		exists, err := s.groups.Exists(ctx, req.TargetGroup)
		if err != nil {
			s.log.Error().Err(err).Msg("select_chat failed")
			sess.sendResponse(protocol.Error("Internal error, try again later."))
			return
		}
		if !exists {
			sess.sendResponse(protocol.Error("Group '" + req.TargetGroup + "' not found."))
			return
		}

		member, err := s.groups.IsMember(ctx, req.TargetGroup, username)
		if err != nil {
			s.log.Error().Err(err).Msg("select_chat failed")
			sess.sendResponse(protocol.Error("Internal error, try again later."))
			return
		}
		if !member {
			sess.sendResponse(protocol.Error("You are not a member of group '" + req.TargetGroup + "'."))
			return
		}

		s.registry.setContext(username, models.ChatContext{Kind: models.ContextGroup, Target: req.TargetGroup})
		sess.sendResponse(protocol.Success("Group chat '" + req.TargetGroup + "' started."))

	default:
		sess.sendResponse(protocol.Error("No chat target given."))
	}
}

func (s *Server) handleSendMessage(ctx context.Context, sess *session, username string, req *protocol.Request) {
	chatCtx, ok := s.registry.context(username)
	if !ok {
		sess.sendResponse(protocol.Error("You are not in a conversation. Select a chat first."))
		return
	}

	if req.Message == "" {
		sess.sendResponse(protocol.Error("Message text required."))
		return
	}

	switch chatCtx.Kind {
	case models.ContextUser:
		s.deliverDirect(ctx, sess, username, chatCtx.Target, req.Message)
	case models.ContextGroup:
		s.deliverGroup(ctx, sess, username, chatCtx.Target, req.Message)
	}
}

// deliverDirect forwards to the target's live session, or queues the
// message if the target is offline (or went stale since the context
// was set — liveness is re-checked here, never trusted from context).
func (s *Server) deliverDirect(ctx context.Context, sess *session, sender, target, body string) {
	if targetSess, ok := s.registry.lookup(target); ok {
		if targetSess.sendEvent(protocol.DirectMessage(sender, body)) {
			metrics.MessagesDelivered.WithLabelValues("direct").Inc()
			return
		}
		// The target stalled and was dropped mid-send; fall through to
		// the offline queue so the message survives.
	}

	if err := s.store.SaveOfflineMessage(ctx, sender, target, body, time.Now().UTC()); err != nil {
		s.log.Error().Err(err).Msg("offline save failed")
		sess.sendResponse(protocol.Error("Internal error, message not delivered."))
		return
	}

	metrics.MessagesQueued.Inc()
	sess.sendResponse(protocol.Info("'" + target + "' is offline. The message will be delivered when they connect."))
}

// deliverGroup fans out to every member currently online except the
// sender. Messages to offline group members are dropped — a documented
// product decision, not an oversight.
func (s *Server) deliverGroup(ctx context.Context, sess *session, sender, group, body string) {
	members, err := s.groups.Members(ctx, group)
	if err != nil {
		s.log.Error().Err(err).Msg("group fan-out failed")
		sess.sendResponse(protocol.Error("Internal error, message not delivered."))
		return
	}

	for _, member := range members {
		if member == sender {
			continue
		}
		if memberSess, ok := s.registry.lookup(member); ok {
			if memberSess.sendEvent(protocol.GroupMessage(group, sender, body)) {
				metrics.MessagesDelivered.WithLabelValues("group").Inc()
			}
		}
	}
}

func (s *Server) handleCreateGroup(ctx context.Context, sess *session, username string, req *protocol.Request) {
	if req.GroupName == "" {
		sess.sendResponse(protocol.Error("Group name required."))
		return
	}

	err := s.groups.Create(ctx, req.GroupName, username)
	if errors.Is(err, groups.ErrGroupExists) {
		sess.sendResponse(protocol.Error("Group '" + req.GroupName + "' already exists."))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("create_group failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return
	}

	sess.sendResponse(protocol.Success("Group '" + req.GroupName + "' created! You were added as its first member."))
}

func (s *Server) handleAddMember(ctx context.Context, sess *session, username string, req *protocol.Request) {
	if req.GroupName == "" || req.UserToAdd == "" {
		sess.sendResponse(protocol.Error("Group name and username are required."))
		return
	}

	// Preconditions are checked in order — group exists, target user
	// exists, caller is a member — and the first failure is reported
	// before anything mutates.
	exists, err := s.groups.Exists(ctx, req.GroupName)
	if err != nil {
		s.log.Error().Err(err).Msg("add_member failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return
	}
	if !exists {
		sess.sendResponse(protocol.Error("The group '" + req.GroupName + "' does not exist."))
		return
	}

	exists, err = s.store.UserExists(ctx, req.UserToAdd)
	if err != nil {
		s.log.Error().Err(err).Msg("add_member failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return
	}
	if !exists {
		sess.sendResponse(protocol.Error("The user '" + req.UserToAdd + "' does not exist."))
		return
	}

	member, err := s.groups.IsMember(ctx, req.GroupName, username)
	if err != nil {
		s.log.Error().Err(err).Msg("add_member failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return
	}
	if !member {
		sess.sendResponse(protocol.Error("You are not a member of this group and cannot add users."))
		return
	}

	if err := s.groups.AddMember(ctx, req.GroupName, req.UserToAdd); err != nil {
		s.log.Error().Err(err).Msg("add_member failed")
		sess.sendResponse(protocol.Error("Internal error, try again later."))
		return
	}

	sess.sendResponse(protocol.Success("User '" + req.UserToAdd + "' added to group '" + req.GroupName + "'."))
}

func (s *Server) handleLeaveChat(sess *session, username string) {
	s.registry.clearContext(username)
	sess.sendResponse(protocol.Success("You left the conversation."))
}

// Package server implements the connection-handling and routing engine:
// the accept loop, the per-connection state machine (authenticate, drain
// the offline queue, command loop) and the shared connection registry.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatd/auth"
	"chatd/groups"
	"chatd/metrics"
	"chatd/protocol"
	"chatd/store"
)

type Config struct {
	Port int
	// AuthTimeout bounds how long an unauthenticated connection may sit
	// idle. Authenticated connections may idle indefinitely.
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	store    store.Store
	auth     *auth.Authenticator
	groups   *groups.Registry
	registry *registry
	config   *Config
	log      zerolog.Logger

	listener net.Listener
}

func New(st store.Store, config *Config, log zerolog.Logger) *Server {
	return &Server{
		store:    st,
		auth:     auth.New(st),
		groups:   groups.New(st),
		registry: newRegistry(),
		config:   config,
		log:      log,
	}
}

// Start runs the accept loop until the listener is closed. Each
// accepted connection gets its own goroutine; a faulty client never
// stalls the loop or another handler.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	s.listener = listener
	defer listener.Close()

	s.log.Info().Int("port", listener.Addr().(*net.TCPAddr).Port).Msg("chat server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}

		metrics.ConnectionsTotal.Inc()
		go s.handleConn(conn)
	}
}

// handleConn walks one connection through the state machine:
// Authenticating -> Active (drain, then command loop) -> Closed. The
// deferred cleanup is the only exit path and runs exactly once no
// matter which state the connection dies in.
func (s *Server) handleConn(conn net.Conn) {
	log := s.log.With().Str("remote_addr", conn.RemoteAddr().String()).Logger()
	sess := newSession(conn, s.config.WriteTimeout, log)
	metrics.ConnectionsActive.Inc()

	ctx, cancel := context.WithCancel(context.Background())

	username := ""
	defer func() {
		cancel()
		if username != "" {
			s.registry.unbind(username)
			log.Info().Str("user", username).Msg("user disconnected")
		}
		sess.close()
		metrics.ConnectionsActive.Dec()
	}()

	log.Debug().Msg("client connected")
	reader := bufio.NewReader(conn)

	// Authenticating: only register and login are understood here.
	// register replies and loops; login transitions out on success.
	// A malformed frame or peer close ends the connection silently —
	// no user state exists yet.
	for username == "" {
		req, err := s.readRequest(reader, conn, s.config.AuthTimeout)
		if err != nil {
			log.Debug().Err(err).Msg("connection ended before login")
			return
		}

		switch req.Command {
		case protocol.CmdRegister:
			s.handleRegister(ctx, sess, req)
		case protocol.CmdLogin:
			username = s.handleLogin(ctx, sess, req)
		default:
			sess.sendResponse(protocol.Error("Invalid authentication command."))
		}
	}

	log = log.With().Str("user", username).Logger()

	// Active entry: the offline queue is fetched-and-deleted in one
	// atomic step and delivered before the first command is read.
	if err := s.drainOffline(ctx, sess, username); err != nil {
		log.Error().Err(err).Msg("offline drain failed")
	}

	for {
		req, err := s.readRequest(reader, conn, 0)
		if err != nil {
			return
		}
		s.dispatch(ctx, sess, username, req)
	}
}

// readRequest reads one framed request. Empty lines are skipped; a
// line that does not decode is a protocol error and the caller
// terminates the connection.
func (s *Server) readRequest(reader *bufio.Reader, conn net.Conn, timeout time.Duration) (*protocol.Request, error) {
	for {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		} else {
			conn.SetReadDeadline(time.Time{})
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		return protocol.ParseRequest([]byte(line))
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session, username string, req *protocol.Request) {
	switch req.Command {
	case protocol.CmdListAll:
		s.handleListAll(ctx, sess, username)
	case protocol.CmdSelectChat:
		s.handleSelectChat(ctx, sess, username, req)
	case protocol.CmdSendMessage:
		s.handleSendMessage(ctx, sess, username, req)
	case protocol.CmdCreateGroup:
		s.handleCreateGroup(ctx, sess, username, req)
	case protocol.CmdAddMember:
		s.handleAddMember(ctx, sess, username, req)
	case protocol.CmdLeaveChat:
		s.handleLeaveChat(sess, username)
	case protocol.CmdRegister, protocol.CmdLogin:
		sess.sendResponse(protocol.Error("Already logged in."))
	default:
		sess.sendResponse(protocol.Error("Unknown command."))
	}
}

// Stats reports connection count and online users, for the control
// socket.
func (s *Server) Stats() string {
	online := s.registry.onlineSet()

	users := make([]string, 0, len(online))
	for username := range online {
		users = append(users, username)
	}

	return "connections=" + strconv.Itoa(len(online)) + ",users=" + strings.Join(users, ";")
}

// Shutdown notifies every live session and closes it, then stops the
// accept loop.
func (s *Server) Shutdown() {
	for _, sess := range s.registry.allSessions() {
		// Synchronous write: closing right after an async enqueue
		// races the pump and the notice never reaches the peer.
		sess.sendSync(protocol.Marshal(protocol.Info("Server is shutting down.")))
		sess.close()
	}

	if s.listener != nil {
		s.listener.Close()
	}
}

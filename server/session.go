package server

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatd/protocol"
)

// outboundBuffer bounds how far a peer may fall behind before the
// server gives up on it.
const outboundBuffer = 64

// session is the live handle for one connection. All writes go through
// the outbound channel and a single write pump, so a slow or stalled
// peer can never block the goroutine that routed a message here.
type session struct {
	conn         net.Conn
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeMu      sync.Mutex
	writeTimeout time.Duration
	log          zerolog.Logger
}

func newSession(conn net.Conn, writeTimeout time.Duration, log zerolog.Logger) *session {
	s := &session{
		conn:         conn,
		out:          make(chan []byte, outboundBuffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		log:          log,
	}
	go s.writePump()
	return s
}

// send queues one frame. It never blocks: if the buffer is full the
// peer has stopped reading and the session is torn down. Frames from
// one sender keep their enqueue order.
func (s *session) send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.out <- frame:
		return true
	case <-s.done:
		return false
	default:
		s.log.Warn().Msg("outbound buffer full, dropping slow client")
		s.close()
		return false
	}
}

func (s *session) sendResponse(resp protocol.Response) bool {
	return s.send(protocol.Marshal(resp))
}

func (s *session) sendEvent(ev protocol.Event) bool {
	return s.send(protocol.Marshal(ev))
}

// sendSync writes on the caller's goroutine, bypassing the buffer, so
// the caller learns whether the peer actually took the frame. Used
// where a dropped frame loses data: the offline drain (the queue rows
// are already deleted) and the shutdown notice.
func (s *session) sendSync(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	return s.writeFrame(frame)
}

// writeFrame serializes the socket write between the pump and
// synchronous senders, so frames never interleave on the stream.
func (s *session) writeFrame(frame []byte) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if _, err := s.conn.Write(frame); err != nil {
		s.close()
		return false
	}
	return true
}

func (s *session) writePump() {
	for {
		select {
		case frame := <-s.out:
			if !s.writeFrame(frame) {
				return
			}
		case <-s.done:
			return
		}
	}
}

// close is safe from any goroutine and runs at most once. Closing the
// conn unblocks the handler's read loop, whose deferred cleanup does
// the registry unbind.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

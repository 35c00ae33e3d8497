package internal

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates the request, upgrades it and hands the connection to
// the registry. Authentication happens before the upgrade so a bad token
// costs one HTTP response, not a socket.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, username, err := s.store.Authenticate(r.Context(), token)
	if err != nil {
		s.logger.Printf("websocket auth refused: %v", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade error: %v", err)
		return
	}

	conn := newConn(sock, userID, username)
	if err := s.registry.Register(conn); err != nil {
		s.logger.Printf("register refused user=%d err=%v", userID, err)
		conn.close()
		return
	}
	s.metrics.IncConn()

	go conn.writePump()
	go s.readPump(conn)
}

// readPump consumes inbound frames until the socket dies, then runs the
// disconnect cascade: registry first so presence and call teardown fire,
// then room cleanup, then the socket itself.
func (s *Server) readPump(conn *Conn) {
	defer func() {
		s.registry.Unregister(conn)
		s.rooms.DropConn(conn)
		conn.close()
		s.metrics.DecConn()
	}()

	conn.sock.SetReadLimit(maxMsgSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	// replay anything queued while the user was away
	s.relay.FlushPending(conn)

	for {
		_, raw, err := conn.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("websocket read error user=%d: %v", conn.userID, err)
			}
			return
		}
		if !conn.allowMessage(time.Now()) {
			conn.sendEvent(EventMessageError, MessageError{Reason: "rate limit exceeded"})
			continue
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			conn.sendEvent(EventMessageError, MessageError{Reason: "malformed frame"})
			continue
		}
		s.dispatch(conn, env)
	}
}

// dispatch routes one decoded frame. Handler errors go back out as events;
// the socket loop never dies because of a bad command.
func (s *Server) dispatch(conn *Conn, env Envelope) {
	switch env.Type {
	case CmdSendMessage:
		msg, err := decodePayload[ChatMessage](env.Data)
		if err != nil {
			conn.sendEvent(EventMessageError, MessageError{Reason: "malformed message payload"})
			return
		}
		s.relay.Send(conn, msg)
	case CmdTypingStart:
		cmd, err := decodePayload[TypingCommand](env.Data)
		if err != nil || cmd.ChatID == 0 {
			return
		}
		s.typing.Start(cmd.ChatID, conn)
	case CmdTypingStop:
		cmd, err := decodePayload[TypingCommand](env.Data)
		if err != nil || cmd.ChatID == 0 {
			return
		}
		s.typing.Stop(cmd.ChatID, conn)
	case CmdJoinChat:
		cmd, err := decodePayload[ChatRoomCommand](env.Data)
		if err != nil || cmd.ChatID == 0 {
			return
		}
		s.rooms.Join(cmd.ChatID, conn)
	case CmdLeaveChat:
		cmd, err := decodePayload[ChatRoomCommand](env.Data)
		if err != nil || cmd.ChatID == 0 {
			return
		}
		s.rooms.Leave(cmd.ChatID, conn)
	case CmdInitiateCall, CmdCallOffer, CmdCallAnswer, CmdIceCandidate, CmdCallAccepted, CmdCallRejected, CmdCallEnded:
		sig, err := decodePayload[CallSignal](env.Data)
		if err != nil {
			conn.sendEvent(EventCallError, CallError{Reason: "malformed call payload"})
			return
		}
		s.dispatchCall(conn, env.Type, sig)
	case CmdHeartbeat:
		s.presence.Heartbeat(conn.userID)
	default:
		s.logger.Printf("unknown command %q user=%d", env.Type, conn.userID)
	}
}

func (s *Server) dispatchCall(conn *Conn, cmd string, sig CallSignal) {
	switch cmd {
	case CmdInitiateCall:
		s.calls.Initiate(conn, sig)
	case CmdCallOffer:
		s.calls.Offer(conn, sig)
	case CmdCallAnswer:
		s.calls.Answer(conn, sig)
	case CmdIceCandidate:
		s.calls.Ice(conn, sig)
	case CmdCallAccepted:
		s.calls.Accepted(conn, sig)
	case CmdCallRejected:
		s.calls.Rejected(conn, sig)
	case CmdCallEnded:
		s.calls.Ended(conn, sig)
	}
}

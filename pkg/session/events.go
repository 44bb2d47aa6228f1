package session

import (
	"encoding/json"

	"github.com/shiv248/mdsession/internal/protocol"
	"github.com/shiv248/mdsession/pkg/logger"
	"github.com/shiv248/mdsession/pkg/mdot"
	"github.com/shiv248/mdsession/pkg/otclient"
)

// registerHandlers wires every inbound transport event to its Session
// method. Called once from New, before Connect.
func (s *Session) registerHandlers() {
	s.transport.On(protocol.EventDoc, s.handleDoc)
	s.transport.On(protocol.EventAck, s.handleAck)
	s.transport.On(protocol.EventOperation, s.handleOperation)
	s.transport.On(protocol.EventOperations, s.handleOperations)
	s.transport.On(protocol.EventRefresh, s.handleRefresh)
	s.transport.On(protocol.EventOnlineUsers, s.handleOnlineUsers)
	s.transport.On(protocol.EventUserStatus, s.handleUserStatus)
	s.transport.On(protocol.EventCursorFocus, s.handleCursor)
	s.transport.On(protocol.EventCursorMove, s.handleCursor)
	s.transport.On(protocol.EventCursorBlur, s.handleCursorBlur)
	s.transport.On(protocol.EventClientLeft, s.handleClientLeft)
	s.transport.On(protocol.EventPermission, s.handlePermission)
	s.transport.On(protocol.EventDelete, s.handleDelete)
	s.transport.On(protocol.EventInfo, s.handleInfo)
}

func (s *Session) collaborators() otclient.Collaborators {
	return otclient.Collaborators{
		SendOperation: func(revision int, op *mdot.TextOperation) {
			data, err := op.MarshalJSON()
			if err != nil {
				logger.Error("session: marshal outgoing operation: %v", err)
				return
			}
			payload := protocol.OperationPayload{Revision: revision, Operation: data}
			if err := s.transport.Emit(protocol.EventOperation, payload); err != nil {
				logger.Error("session: emit operation: %v", err)
			}
		},
		ApplyOperation: func(op *mdot.TextOperation) {
			s.mu.Lock()
			newText, err := op.Apply(s.replica)
			if err != nil {
				s.mu.Unlock()
				logger.Error("session: apply remote operation: %v", err)
				return
			}
			s.replica = newText
			author := s.pendingRemoteAuthor
			s.mu.Unlock()
			s.limiter.transformQueued(op)
			s.fireChange(ChangeEvent{Local: false, Operation: op, AuthorID: author})
		},
		GetOperations: func(base, head int) {
			if err := s.transport.Emit(protocol.EventGetOperations, map[string]int{"base": base, "head": head}); err != nil {
				logger.Error("session: emit get_operations: %v", err)
			}
		},
	}
}

func (s *Session) handleDoc(env protocol.Envelope) {
	var payload protocol.DocPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode doc event: %v", err)
		return
	}

	s.mu.Lock()
	s.replica = payload.Str
	s.ready = true
	s.connected = true
	if payload.Clients != nil {
		s.users = payload.Clients
	}
	s.mu.Unlock()

	s.otc = otclient.New(payload.Revision, s.collaborators())
	s.recon.onReady()
	s.fireChange(ChangeEvent{Local: false})
	s.firePresence()
}

func (s *Session) handleAck(env protocol.Envelope) {
	var payload protocol.AckPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode ack event: %v", err)
		return
	}
	if err := s.otc.ServerAck(payload.Revision); err != nil {
		logger.Error("session: server ack: %v", err)
	}
}

func (s *Session) handleOperation(env protocol.Envelope) {
	var payload protocol.OperationPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode operation event: %v", err)
		return
	}
	op, err := mdot.FromJSON(payload.Operation)
	if err != nil {
		logger.Error("session: decode remote operation: %v", err)
		return
	}
	s.mu.Lock()
	s.pendingRemoteAuthor = payload.ClientID
	s.mu.Unlock()
	if err := s.otc.ApplyServer(payload.Revision, op); err != nil {
		logger.Error("session: apply server operation: %v", err)
	}
}

func (s *Session) handleOperations(env protocol.Envelope) {
	var payload protocol.OperationsPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode operations event: %v", err)
		return
	}
	ops := make([]*mdot.TextOperation, 0, len(payload.Operations))
	for _, o := range payload.Operations {
		op, err := mdot.FromJSON(o.Operation)
		if err != nil {
			logger.Error("session: decode recovery operation: %v", err)
			return
		}
		ops = append(ops, op)
	}
	s.mu.Lock()
	s.pendingRemoteAuthor = 0
	s.mu.Unlock()
	if err := s.otc.ApplyOperations(payload.Head, ops); err != nil {
		logger.Error("session: apply recovery operations: %v", err)
	}
}

func (s *Session) handleRefresh(env protocol.Envelope) {
	var note protocol.NoteInfo
	if err := json.Unmarshal(env.Data, &note); err != nil {
		logger.Error("session: decode refresh event: %v", err)
		return
	}
	s.mu.Lock()
	s.note = note
	s.mu.Unlock()
}

func (s *Session) handleOnlineUsers(env protocol.Envelope) {
	var payload protocol.OnlineUsersPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode online users event: %v", err)
		return
	}
	s.mu.Lock()
	s.users = payload.Users
	s.mu.Unlock()
	s.firePresence()
}

func (s *Session) handleUserStatus(env protocol.Envelope) {
	var u protocol.UserInfo
	if err := json.Unmarshal(env.Data, &u); err != nil {
		logger.Error("session: decode user status event: %v", err)
		return
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	s.firePresence()
}

func (s *Session) handleCursor(env protocol.Envelope) {
	var payload protocol.CursorPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode cursor event: %v", err)
		return
	}
	s.mu.Lock()
	handlers := append([]func(uint64, *protocol.Range){}, s.cursorHandlers...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(payload.ClientID, payload.Position)
	}
}

func (s *Session) handleCursorBlur(env protocol.Envelope) {
	var payload protocol.CursorPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode cursor blur event: %v", err)
		return
	}
	s.mu.Lock()
	handlers := append([]func(uint64, *protocol.Range){}, s.cursorHandlers...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(payload.ClientID, nil)
	}
}

func (s *Session) handleClientLeft(env protocol.Envelope) {
	var payload protocol.ClientLeftPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode client_left event: %v", err)
		return
	}
	s.mu.Lock()
	delete(s.users, payload.ClientID)
	s.mu.Unlock()
	s.firePresence()
}

func (s *Session) handlePermission(env protocol.Envelope) {
	var payload protocol.PermissionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode permission event: %v", err)
		return
	}
	s.mu.Lock()
	s.note.Permission = payload.Permission
	s.mu.Unlock()
}

func (s *Session) handleDelete(env protocol.Envelope) {
	logger.Info("session: document %s was deleted by its owner", s.cfg.Document)
	s.Close()
}

func (s *Session) handleInfo(env protocol.Envelope) {
	var payload protocol.InfoPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Error("session: decode info event: %v", err)
		return
	}
	if payload.Code == 403 || payload.Code == 404 {
		logger.Error("session: fatal server info %d: %s", payload.Code, payload.Message)
		s.Close()
		return
	}
	logger.Info("session: server info %d: %s", payload.Code, payload.Message)
}

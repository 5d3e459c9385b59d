package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	v1 "arclink/shared/contracts/realtime/v1"
)

const (
	maxFrameBytes = 64 << 10
	sendQueueSize = 64
)

// participant is one accepted channel connection. send is never closed;
// done signals the writer to stop.
type participant struct {
	id     string
	userID string
	send   chan v1.Inbound

	done      chan struct{}
	closeOnce sync.Once
}

func newParticipant(userID string) *participant {
	return &participant{
		id:     newMessageID(time.Time{}),
		userID: userID,
		send:   make(chan v1.Inbound, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (p *participant) close() { p.closeOnce.Do(func() { close(p.done) }) }

// room fans frames out to every participant of one chat.
type room struct {
	id string

	mu      sync.RWMutex
	members map[string]*participant
}

func (r *room) join(p *participant) {
	r.mu.Lock()
	r.members[p.id] = p
	r.mu.Unlock()
}

func (r *room) leave(id string) {
	r.mu.Lock()
	p := r.members[id]
	delete(r.members, id)
	r.mu.Unlock()
	if p != nil {
		p.close()
	}
}

// broadcast never blocks; a full participant queue drops the frame.
func (r *room) broadcast(msg v1.Inbound) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.members {
		select {
		case <-p.done:
			continue
		default:
		}
		select {
		case p.send <- msg:
		default:
		}
	}
}

type rooms struct {
	log *slog.Logger

	mu   sync.Mutex
	byID map[string]*room

	stop     chan struct{}
	stopOnce sync.Once
}

func newRooms(log *slog.Logger) *rooms {
	return &rooms{log: log, byID: map[string]*room{}, stop: make(chan struct{})}
}

func (rs *rooms) get(id string) *room {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.byID[id]
	if !ok {
		r = &room{id: id, members: map[string]*participant{}}
		rs.byID[id] = r
	}
	return r
}

// dropAll closes every participant; their connections end with a going-away frame.
func (rs *rooms) dropAll() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, r := range rs.byID {
		r.mu.RLock()
		for _, p := range r.members {
			p.close()
		}
		r.mu.RUnlock()
	}
}

// closeAll drops every participant and stops pending replies.
func (rs *rooms) closeAll() {
	rs.stopOnce.Do(func() { close(rs.stop) })
	rs.dropAll()
}

// DropConnections closes every live channel connection with a going-away
// frame, as a restarting server would. New connections are still accepted.
func (s *Server) DropConnections() { s.rooms.dropAll() }

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")

	u, err := s.authenticate(r)
	if err != nil {
		s.log.Info("ws.reject.unauthenticated", "chat_id", chatID, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.dir.ownsChat(u.ID, chatID) {
		s.log.Info("ws.reject.chat", "chat_id", chatID, "user_id", u.ID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	rm := s.rooms.get(chatID)
	p := newParticipant(u.ID)
	rm.join(p)
	s.log.Info("ws.join", "chat_id", chatID, "user_id", u.ID, "participant", p.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				_ = conn.Close(websocket.StatusGoingAway, "server going away")
				cancel()
				return
			case msg := <-p.send:
				wctx, wcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
				err := wsjson.Write(wctx, conn, msg)
				wcancel()
				if err != nil {
					s.log.Info("ws.write.fail", "participant", p.id, "err", err)
					cancel()
					return
				}
			}
		}
	}()

	rl := newRateLimiter(s.cfg.RateEvents, s.cfg.RateWindow)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				s.log.Info("ws.peer.closed", "participant", p.id, "status", int(status))
			}
			break
		}

		now := s.now()
		if !rl.allow(now) {
			_ = conn.Close(websocket.StatusPolicyViolation, "rate limited")
			break
		}

		var in v1.Outbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.log.Info("ws.frame.bad_json", "participant", p.id)
			continue
		}
		if err := in.Validate(); err != nil {
			continue
		}

		content := strings.TrimSpace(in.Message)
		rm.broadcast(v1.Inbound{Type: v1.TypeUserMessage, MessageID: newMessageID(now), Content: content})
		go s.streamReply(rm, content)
	}

	rm.leave(p.id)
	cancel()
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	s.log.Info("ws.leave", "chat_id", chatID, "participant", p.id)
}

// streamReply sends the assistant reply word by word, then ai_complete.
// It outlives the sender's connection, as the reply is stored regardless.
func (s *Server) streamReply(rm *room, prompt string) {
	reply := assistantReply(prompt)
	for _, word := range strings.SplitAfter(reply, " ") {
		select {
		case <-s.rooms.stop:
			return
		case <-time.After(s.cfg.ReplyChunkDelay):
		}
		rm.broadcast(v1.Inbound{Type: v1.TypeAIChunk, Chunk: word})
	}
	rm.broadcast(v1.Inbound{Type: v1.TypeAIComplete, MessageID: newMessageID(s.now())})
}

func assistantReply(prompt string) string {
	return "I hear you. You said: " + prompt
}

// rateLimiter is a sliding-window limiter for one connection.
type rateLimiter struct {
	events []time.Time
	limit  int
	window time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &rateLimiter{events: make([]time.Time, 0, limit), limit: limit, window: window}
}

func (r *rateLimiter) allow(now time.Time) bool {
	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst
	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

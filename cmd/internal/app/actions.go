package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"arclink/cmd/internal/auth/session"
	"arclink/cmd/internal/realtime"
	v1 "arclink/shared/contracts/realtime/v1"
)

const chatsPath = "/chatbot/chats/"

// Login signs in and persists the credential.
func (a *App) Login(ctx context.Context, username, password string) (session.User, error) {
	return a.session.Login(ctx, username, password)
}

// Logout ends the session locally. A server failure is reported but the
// local credential is gone either way.
func (a *App) Logout(ctx context.Context) error {
	if _, ok := a.store.Get(); !ok {
		return ErrNotLoggedIn
	}
	return a.session.Logout(ctx)
}

// WhoAmI restores the session and returns the signed-in user.
func (a *App) WhoAmI(ctx context.Context) (session.User, error) {
	return a.restore(ctx)
}

// Get issues an authenticated GET for path (relative to the API base URL)
// and returns the status and body.
func (a *App) Get(ctx context.Context, path string) (int, []byte, error) {
	if _, ok := a.store.Get(); !ok {
		return 0, nil, ErrNotLoggedIn
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.api.URL(path), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	return a.do(req)
}

// CreateChat creates a chat and returns its id.
func (a *App) CreateChat(ctx context.Context, title string) (string, error) {
	if _, ok := a.store.Get(); !ok {
		return "", ErrNotLoggedIn
	}
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.api.URL(chatsPath), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	status, raw, err := a.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", fmt.Errorf("create chat: status %d: %s", status, strings.TrimSpace(string(raw)))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("create chat: unexpected body %q", raw)
	}
	return out.ID, nil
}

func (a *App) do(req *http.Request) (int, []byte, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// Chat joins chatID, sends every line read from in and renders replies.
// It returns when in is exhausted and every sent message was answered,
// when the session ends, or when reconnection gives up.
func (a *App) Chat(ctx context.Context, chatID string, in io.Reader) error {
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	ch, err := a.newChannel(chatID)
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	unwatch := a.session.OnStateChange(func(s session.State) {
		if s == session.StateLoggedOut {
			cancel(session.ErrSessionExpired)
		}
	})
	defer unwatch()

	events, unsubscribe := ch.Subscribe(64)
	defer unsubscribe()

	completes := make(chan struct{}, 16)
	rendered := make(chan error, 1)
	go func() { rendered <- a.render(ctx, ch, events, completes) }()

	if err := ch.Connect(ctx); err != nil {
		a.log.Info("chat.connect.retrying", "err", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	pending := 0
	for {
		select {
		case <-ctx.Done():
			return chatExit(ctx)
		case err := <-rendered:
			return err
		case <-completes:
			pending = max(pending-1, 0)
		case line, ok := <-lines:
			if !ok {
				return a.drain(ctx, ch, pending, completes, rendered)
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "/quit" {
				ch.Disconnect(realtime.StatusNormalClosure, "bye")
				return nil
			}
			if err := ch.SendText(ctx, text); err != nil {
				if errors.Is(err, realtime.ErrNotConnected) {
					_, _ = fmt.Fprintln(a.errOut, "(not connected, message not sent)")
					continue
				}
				return err
			}
			pending++
		}
	}
}

// drain waits for outstanding replies after input ends.
func (a *App) drain(ctx context.Context, ch *realtime.Manager, pending int, completes <-chan struct{}, rendered <-chan error) error {
	for pending > 0 {
		select {
		case <-ctx.Done():
			return chatExit(ctx)
		case err := <-rendered:
			return err
		case <-completes:
			pending--
		}
	}
	ch.Disconnect(realtime.StatusNormalClosure, "bye")
	return nil
}

func chatExit(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, session.ErrSessionExpired) {
		return cause
	}
	return nil
}

func (a *App) newChannel(chatID string) (*realtime.Manager, error) {
	u, err := a.cfg.ChannelURL(chatID)
	if err != nil {
		return nil, err
	}
	opts := realtime.DefaultOptions()
	opts.URL = u
	opts.Name = "chat"
	opts.Subprotocols = a.cfg.WSSubprotocols
	opts.BaseDelay = a.cfg.ReconnectBase
	opts.MaxAttempts = a.cfg.ReconnectMax
	opts.DialTimeout = a.cfg.WSDialTimeout
	opts.WriteTimeout = a.cfg.WSWriteTimeout
	opts.Header = a.channelHeader
	return realtime.NewManager(a.log, nil, opts)
}

// channelHeader is evaluated on every dial so a reconnect presents the
// credential current at that moment.
func (a *App) channelHeader() http.Header {
	h := http.Header{}
	if tok := a.store.Token(); tok != "" {
		h.Set("Authorization", "Bearer "+string(tok))
	}
	return h
}

func (a *App) render(ctx context.Context, ch *realtime.Manager, events <-chan realtime.Event, completes chan<- struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case realtime.EventState:
				_, _ = fmt.Fprintf(a.errOut, "[%s]\n", ev.State)
				if ev.State == realtime.StateReconnecting {
					a.reauthorize(ctx, ch)
				}
			case realtime.EventMessage:
				if a.renderFrame(ev.Message) {
					select {
					case completes <- struct{}{}:
					case <-ctx.Done():
						return nil
					}
				}
			case realtime.EventError:
				if errors.Is(ev.Err, realtime.ErrMaxReconnectExceeded) {
					return ev.Err
				}
			}
		}
	}
}

// reauthorize refreshes the credential when the last handshake was
// rejected as unauthorized, so the scheduled reconnect presents a fresh
// one. A failed refresh ends the session.
func (a *App) reauthorize(ctx context.Context, ch *realtime.Manager) {
	var de *realtime.DialError
	if !errors.As(ch.Status().LastErr, &de) || de.Status != http.StatusUnauthorized {
		return
	}
	if _, err := a.refresher.Refresh(ctx); err != nil {
		if ctx.Err() == nil {
			a.session.Terminate("channel_unauthorized")
		}
		return
	}
	a.log.Info("chat.reauthorized")
}

// renderFrame prints one inbound frame and reports whether it completed a reply.
func (a *App) renderFrame(msg realtime.Message) bool {
	in, err := v1.DecodeInbound(msg.Data)
	if err != nil {
		a.log.Warn("chat.frame.unknown", "type", msg.Type, "err", err)
		return false
	}
	switch in.Type {
	case v1.TypeUserMessage:
		_, _ = fmt.Fprintf(a.out, "> %s\n", in.Content)
	case v1.TypeAIChunk:
		_, _ = fmt.Fprint(a.out, in.Chunk)
	case v1.TypeAIComplete:
		_, _ = fmt.Fprintln(a.out)
		return true
	}
	return false
}

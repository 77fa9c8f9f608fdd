// Copyright 2025-2026 Aiku AI

// Package telegram adapts the gogram MTProto client library to the
// transport capability interface consumed by the forwarder core.
package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	tg "github.com/amarnathcjd/gogram/telegram"
	"github.com/rs/zerolog"

	"github.com/aiku/telegram-forwarder/pkg/forwarder"
)

// Transport creates gogram-backed connections, one file session per
// account under the session directory.
type Transport struct {
	apiID      int32
	apiHash    string
	sessionDir string
	log        zerolog.Logger
}

var _ forwarder.Transport = (*Transport)(nil)

// NewTransport creates the Telegram transport, ensuring the session
// directory exists.
func NewTransport(apiID int32, apiHash, sessionDir string, log zerolog.Logger) (*Transport, error) {
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Transport{
		apiID:      apiID,
		apiHash:    apiHash,
		sessionDir: sessionDir,
		log:        log.With().Str("component", "tg_transport").Logger(),
	}, nil
}

// Connect establishes an MTProto connection for the account, loading
// its persisted session blob when one exists.
func (t *Transport) Connect(_ context.Context, phone string) (forwarder.Conn, error) {
	client, err := tg.NewClient(tg.ClientConfig{
		AppID:   t.apiID,
		AppHash: t.apiHash,
		Session: filepath.Join(t.sessionDir, phone+sessionSuffix),
	})
	if err != nil {
		return nil, mapLockError(err)
	}
	if err := client.Connect(); err != nil {
		return nil, mapLockError(err)
	}
	return &conn{
		client:  client,
		apiID:   t.apiID,
		apiHash: t.apiHash,
		log:     t.log.With().Str("phone", phone).Logger(),
	}, nil
}

const sessionSuffix = ".session"

// mapLockError converts the client library's lock-contention errors
// into ErrTransientLock so the session manager retries them.
func mapLockError(err error) error {
	if err != nil && strings.Contains(err.Error(), "locked") {
		return fmt.Errorf("%w: %v", forwarder.ErrTransientLock, err)
	}
	return err
}

// conn is one live gogram connection.
type conn struct {
	client  *tg.Client
	apiID   int32
	apiHash string
	log     zerolog.Logger

	closeOnce sync.Once
}

var _ forwarder.Conn = (*conn)(nil)

func (c *conn) IsAuthorized(_ context.Context) (bool, error) {
	// GetMe fails with an auth error when the session is not signed in.
	if _, err := c.client.GetMe(); err != nil {
		return false, nil
	}
	return true, nil
}

func (c *conn) RequestCode(_ context.Context, phone string) (string, error) {
	sent, err := c.client.AuthSendCode(phone, c.apiID, c.apiHash, &tg.CodeSettings{})
	if err != nil {
		return "", err
	}
	code, ok := sent.(*tg.AuthSentCodeObj)
	if !ok {
		return "", fmt.Errorf("unexpected code request response %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (c *conn) SignIn(_ context.Context, phone, code, challenge string) error {
	_, err := c.client.AuthSignIn(phone, challenge, code, nil)
	return err
}

func (c *conn) SaveSession() error {
	// gogram flushes the file session itself once sign-in succeeds;
	// nothing extra to persist here.
	return nil
}

func (c *conn) OnMessage(handler func(msg forwarder.InboundMessage)) {
	c.client.AddMessageHandler(tg.OnNewMessage, func(m *tg.NewMessage) error {
		handler(forwarder.InboundMessage{
			ChatID: strconv.FormatInt(m.ChatID(), 10),
			Text:   m.Text(),
		})
		return nil
	})
}

func (c *conn) SendMessage(_ context.Context, chatID, text string) error {
	peer, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	_, err = c.client.SendMessage(peer, text)
	return err
}

func (c *conn) ListChats(ctx context.Context) ([]forwarder.ChatInfo, error) {
	dialogs, err := c.client.GetDialogs()
	if err != nil {
		return nil, err
	}

	var chats []forwarder.ChatInfo
	for _, d := range dialogs {
		dialog, ok := d.(*tg.DialogObj)
		if !ok {
			continue
		}
		id, kind := peerInfo(dialog.Peer)
		if id == 0 {
			continue
		}
		chatID := strconv.FormatInt(id, 10)
		name, err := c.ResolveName(ctx, chatID)
		if err != nil {
			c.log.Debug().Err(err).Str("chat_id", chatID).Msg("Skipping unresolvable dialog")
			continue
		}
		chats = append(chats, forwarder.ChatInfo{ID: chatID, Name: name, Kind: kind})
	}
	return chats, nil
}

func (c *conn) ResolveName(_ context.Context, chatID string) (string, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	if user, err := c.client.GetUser(id); err == nil {
		if name := strings.TrimSpace(user.FirstName + " " + user.LastName); name != "" {
			return name, nil
		}
		return user.Username, nil
	}
	if chat, err := c.client.GetChat(id); err == nil {
		return chat.Title, nil
	}
	if channel, err := c.client.GetChannel(id); err == nil {
		return channel.Title, nil
	}
	return "", fmt.Errorf("could not resolve entity %s", chatID)
}

func (c *conn) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.client.Disconnect()
	})
	return err
}

// peerInfo maps a dialog peer to the chat identifier and closed kind
// enumeration used across the API.
func peerInfo(peer tg.Peer) (int64, forwarder.ChatKind) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID, forwarder.KindUser
	case *tg.PeerChat:
		return -p.ChatID, forwarder.KindGroup
	case *tg.PeerChannel:
		return p.ChannelID, forwarder.KindChannel
	default:
		return 0, forwarder.KindUnknown
	}
}

// Package matrix connects the entity to Matrix rooms through mautrix-go.
package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/hmennen90/open-entity-sub000/pkg/channel"
)

const (
	maxMessageLen = 4000
	chunkPause    = 500 * time.Millisecond
	resyncDelay   = 15 * time.Second
	typingTimeout = 30 * time.Second
)

// Config holds Matrix connection settings.
type Config struct {
	Homeserver   string
	UserID       string // localpart, e.g. "nova"
	Password     string
	ServerName   string // e.g. "matrix.example.com"
	AllowedUsers []string
	DataDir      string // where the access token is kept between runs
}

// Channel is a channel.Channel backed by a Matrix account.
type Channel struct {
	config    Config
	client    *mautrix.Client
	handler   channel.MessageHandler
	startedAt time.Time
	credFile  string
}

type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New creates a Matrix channel. Nothing connects until Start.
func New(cfg Config) *Channel {
	return &Channel{
		config:   cfg,
		credFile: filepath.Join(cfg.DataDir, "matrix_credentials.json"),
	}
}

// Name returns "matrix".
func (c *Channel) Name() string { return "matrix" }

// Start logs in and syncs until ctx is cancelled, handing every accepted
// text message to handler.
func (c *Channel) Start(ctx context.Context, handler channel.MessageHandler) error {
	c.handler = handler
	c.startedAt = time.Now()

	if err := os.MkdirAll(c.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("create matrix data dir: %w", err)
	}

	userID := c.fullUserID()
	client, err := mautrix.NewClient(c.config.Homeserver, id.UserID(userID), "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	client.Store = mautrix.NewMemorySyncStore()
	c.client = client

	if err := c.login(ctx, userID); err != nil {
		return err
	}

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.onMessage)
	syncer.OnEventType(event.StateMember, c.onInvite)

	slog.Info("matrix channel syncing", "user", userID)
	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("matrix sync failed, retrying", "error", err, "delay", resyncDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(resyncDelay):
			}
		}
	}
}

func (c *Channel) fullUserID() string {
	if strings.HasPrefix(c.config.UserID, "@") {
		return c.config.UserID
	}
	return fmt.Sprintf("@%s:%s", c.config.UserID, c.config.ServerName)
}

// login reuses a stored token when there is one and otherwise logs in
// with the password, backing off between attempts.
func (c *Channel) login(ctx context.Context, userID string) error {
	if creds, err := c.loadCredentials(); err == nil {
		c.client.AccessToken = creds.AccessToken
		c.client.UserID = id.UserID(creds.UserID)
		c.client.DeviceID = id.DeviceID(creds.DeviceID)
		slog.Info("matrix credentials loaded", "user", creds.UserID)
		return nil
	}

	const maxAttempts = 10
	backoff := 2 * time.Second
	for attempt := 1; ; attempt++ {
		resp, err := c.client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: c.config.UserID,
			},
			Password:         c.config.Password,
			StoreCredentials: true,
		})
		if err == nil {
			slog.Info("matrix login succeeded", "user", resp.UserID, "device", resp.DeviceID)
			if err := c.saveCredentials(credentials{
				AccessToken: resp.AccessToken,
				UserID:      string(resp.UserID),
				DeviceID:    string(resp.DeviceID),
			}); err != nil {
				slog.Warn("matrix credentials not saved", "error", err)
			}
			return nil
		}
		if permanent(err) {
			return fmt.Errorf("matrix login: %w", err)
		}
		if attempt == maxAttempts {
			return fmt.Errorf("matrix login after %d attempts: %w", attempt, err)
		}

		slog.Warn("matrix login failed", "user", userID, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 2*time.Minute)
	}
}

func permanent(err error) bool {
	return errors.Is(err, mautrix.MForbidden) ||
		errors.Is(err, mautrix.MUnknownToken) ||
		errors.Is(err, mautrix.MInvalidParam)
}

// Send posts resp to its room, split into numbered chunks when long.
func (c *Channel) Send(ctx context.Context, resp channel.Response) error {
	if c.client == nil {
		return errors.New("matrix channel not started")
	}
	room := id.RoomID(resp.RoomID)
	_, _ = c.client.UserTyping(ctx, room, false, 0)

	chunks := splitMessage(resp.Content, maxMessageLen)
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			chunk = fmt.Sprintf("[%d/%d] %s", i+1, len(chunks), chunk)
		}
		if _, err := c.client.SendText(ctx, room, chunk); err != nil {
			return fmt.Errorf("matrix send to %s: %w", room, err)
		}
		if i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(chunkPause):
			}
		}
	}
	slog.Debug("matrix reply sent", "room", room, "chunks", len(chunks))
	return nil
}

// Stop ends the sync loop.
func (c *Channel) Stop() error {
	if c.client != nil {
		c.client.StopSync()
	}
	return nil
}

func (c *Channel) onMessage(ctx context.Context, evt *event.Event) {
	msg, ok := c.accept(evt)
	if !ok {
		return
	}
	slog.Info("matrix message", "sender", msg.SenderID, "room", msg.RoomID, "content", preview(msg.Content, 100))

	_, _ = c.client.UserTyping(ctx, evt.RoomID, true, typingTimeout)
	if err := c.handler(ctx, msg); err != nil {
		_, _ = c.client.UserTyping(ctx, evt.RoomID, false, 0)
		slog.Error("matrix message not answered", "room", msg.RoomID, "error", err)
	}
}

// accept filters our own echoes, backlog from before Start, disallowed
// senders and non-text events.
func (c *Channel) accept(evt *event.Event) (channel.Message, bool) {
	if evt.Sender == c.client.UserID || evt.Timestamp < c.startedAt.UnixMilli() || !c.allowed(evt.Sender) {
		return channel.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || strings.TrimSpace(content.Body) == "" {
		return channel.Message{}, false
	}
	return channel.Message{
		ID:       string(evt.ID),
		Source:   c.Name(),
		SenderID: string(evt.Sender),
		RoomID:   string(evt.RoomID),
		Content:  content.Body,
		At:       time.UnixMilli(evt.Timestamp).UTC(),
	}, true
}

func (c *Channel) onInvite(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != string(c.client.UserID) {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if !c.allowed(evt.Sender) {
		slog.Warn("matrix invite ignored", "room", evt.RoomID, "from", evt.Sender)
		return
	}
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("matrix join failed", "room", evt.RoomID, "error", err)
		return
	}
	slog.Info("matrix room joined", "room", evt.RoomID, "from", evt.Sender)
}

func (c *Channel) loadCredentials() (credentials, error) {
	var creds credentials
	data, err := os.ReadFile(c.credFile)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, err
	}
	if creds.AccessToken == "" {
		return creds, errors.New("empty access token")
	}
	return creds, nil
}

func (c *Channel) saveCredentials(creds credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.credFile, data, 0o600)
}

// allowed reports whether sender may talk to the entity. An empty list
// admits everyone.
func (c *Channel) allowed(sender id.UserID) bool {
	if len(c.config.AllowedUsers) == 0 {
		return true
	}
	for _, u := range c.config.AllowedUsers {
		if u == string(sender) {
			return true
		}
	}
	return false
}

// splitMessage cuts s into chunks of at most maxRunes runes, preferring
// to break after a newline.
func splitMessage(s string, maxRunes int) []string {
	runes := []rune(s)
	var chunks []string
	for len(runes) > maxRunes {
		cut := maxRunes
		for i := maxRunes - 1; i > maxRunes/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(chunks) == 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

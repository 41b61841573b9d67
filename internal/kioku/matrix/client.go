// Package matrix provides Matrix client functionality for Kioku
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Kioku/common/retry"
	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/engine"
)

// Config holds Matrix client configuration
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// DisplayName is the name group members use to address the bot;
	// a text message mentioning it (or mentioning the user ID) is treated
	// as directed at the bot. All other room traffic is ignored.
	DisplayName string
	// DB is an optional SQLite connection used to persist the Matrix sync
	// token (next_batch) across restarts.  When nil, an in-memory store is
	// used and all room history will be replayed on every restart.
	DB *sql.DB
}

// Responder turns an addressed inbound message into a reply. Satisfied by
// *engine.Engine.
type Responder interface {
	HandleMessage(ctx context.Context, in engine.Inbound) (string, error)
}

// Client wraps the Matrix client
type Client struct {
	client    *mautrix.Client
	config    *Config
	stopCh    chan struct{}
	responder Responder
}

// New creates a new Matrix client
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}

	// Attach a persistent sync store so the bot resumes from the last known
	// position after a restart instead of replaying the full room history.
	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
		slog.Info("Matrix sync store: using persistent SQLite store")
	} else {
		slog.Warn("Matrix sync store: no DB configured, using in-memory store (history will replay on restart)")
	}

	return c, nil
}

// Start begins syncing with the Matrix homeserver
func (c *Client) Start(ctx context.Context, responder Responder) error {
	c.responder = responder

	// NOTE: E2EE (end-to-end encryption) is not currently implemented.
	// All messages are sent and received in plaintext, including saved
	// facts. Implementing E2EE requires olm session management via the
	// mautrix crypto store.
	slog.Warn("Matrix E2EE is not enabled; messages are transmitted in plaintext")

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMembership)

	// Start syncing in background with exponential back-off reconnection.
	// Without retries a transient homeserver error would silently kill the
	// sync goroutine and leave the bot deaf to all new messages.
	go func() {
		var backoff time.Duration
		for {
			started := time.Now()
			if err := c.client.Sync(); err != nil {
				// Check whether Stop() was called; if so, exit cleanly.
				select {
				case <-c.stopCh:
					return
				default:
				}
				backoff = nextSyncBackoff(backoff, time.Since(started))
				slog.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				continue
			}
			// Sync returned nil — only happens on a clean StopSync() call.
			return
		}
	}()

	return nil
}

// Reconnect backoff for the sync loop.
const (
	syncBackoffMin  = 2 * time.Second
	syncBackoffMax  = 5 * time.Minute
	syncStableAfter = time.Minute
)

// nextSyncBackoff returns the delay before the next reconnect attempt.
// previous is the delay used for the last attempt and uptime is how long
// the failed Sync call ran. Consecutive quick failures double the delay up
// to the cap; once a connection has stayed up past syncStableAfter the
// schedule restarts from the minimum.
func nextSyncBackoff(previous, uptime time.Duration) time.Duration {
	if uptime >= syncStableAfter {
		return syncBackoffMin
	}
	next := previous * 2
	if next < syncBackoffMin {
		next = syncBackoffMin
	}
	if next > syncBackoffMax {
		next = syncBackoffMax
	}
	return next
}

// Stop stops the Matrix client
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage sends a text message to a room, retrying transient failures
// so a momentary homeserver hiccup does not drop an already generated
// reply.
func (c *Client) SendMessage(ctx context.Context, roomID, message string) error {
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		_, err := c.client.SendText(ctx, id.RoomID(roomID), message)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendNotice sends a notice message (less intrusive than normal messages)
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}

	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// SetTyping sets typing indicator
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	_, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout)
	if err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// IsAddressed reports whether a message is directed at the bot: an
// explicit m.mentions entry for the bot's user ID, or the bot's display
// name or user ID appearing in the text. Everything else in a group room
// is other people's conversation.
func (c *Client) IsAddressed(content *event.MessageEventContent) bool {
	if content.Mentions != nil {
		for _, uid := range content.Mentions.UserIDs {
			if uid == id.UserID(c.config.UserID) {
				return true
			}
		}
	}

	body := strings.ToLower(content.Body)
	if c.config.DisplayName != "" && strings.Contains(body, strings.ToLower(c.config.DisplayName)) {
		return true
	}
	return strings.Contains(body, strings.ToLower(c.config.UserID))
}

// handleMessage processes incoming messages
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}

	// Only process text messages
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}

	if !c.IsAddressed(msgContent) {
		return
	}

	if c.responder == nil {
		return
	}

	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	// Sync dispatch is single-threaded: mautrix invokes every event handler
	// from the sync goroutine, so the reply (which waits on an external
	// completion call) must run in its own goroutine or one slow turn would
	// stall message delivery for every room. The engine's per-chat lock
	// keeps turns within a chat serialized.
	go c.respond(ctx, evt, msgContent)
}

// respond produces and sends the reply for an addressed message.
func (c *Client) respond(ctx context.Context, evt *event.Event, msgContent *event.MessageEventContent) {
	roomID := evt.RoomID.String()

	// Best effort; a failed typing indicator never blocks the reply.
	_ = c.SetTyping(ctx, roomID, true, 30*time.Second)
	defer c.SetTyping(ctx, roomID, false, 0) //nolint:errcheck

	reply, err := c.responder.HandleMessage(ctx, engine.Inbound{
		ChatID:     roomID,
		AuthorID:   evt.Sender.String(),
		AuthorName: c.senderName(ctx, evt.Sender),
		Body:       msgContent.Body,
	})
	if err != nil {
		slog.Error("matrix: handling message failed",
			"trace_id", trace.FromContext(ctx),
			"room", roomID,
			"sender", evt.Sender,
			"err", err,
		)
		if engine.IsUpstream(err) {
			_ = c.SendNotice(ctx, roomID, "I could not reach my language model just now; please try again.")
		}
		return
	}

	if err := c.SendMessage(ctx, roomID, reply); err != nil {
		slog.Error("matrix: sending reply failed",
			"trace_id", trace.FromContext(ctx),
			"room", roomID,
			"err", err,
		)
	}
}

// handleMembership auto-accepts room invites so adding the bot to a group
// is a single invite away.
func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != c.config.UserID {
		return
	}

	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		// M_FORBIDDEN is returned by homeservers when the bot is already a
		// member of the room.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: join refused, continuing", "room", evt.RoomID)
			return
		}
		slog.Error("matrix: joining room failed", "room", evt.RoomID, "err", err)
		return
	}
	slog.Info("matrix: joined room", "room", evt.RoomID)
}

// senderName resolves the sender's display name, falling back to the raw
// user ID when the profile lookup fails.
func (c *Client) senderName(ctx context.Context, sender id.UserID) string {
	profile, err := c.client.GetProfile(ctx, sender)
	if err != nil || profile.DisplayName == "" {
		return sender.String()
	}
	return profile.DisplayName
}

// GetUserID returns the client's user ID
func (c *Client) GetUserID() string {
	return c.config.UserID
}

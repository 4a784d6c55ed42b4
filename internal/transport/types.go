package transport

import (
	"context"
	"errors"
	"time"
)

// ErrChannelNotFound is returned when a configured channel ID does not resolve
// to a channel the bot can see. Every send and sweep depends on channel
// resolution, so callers treat this as fatal rather than transient.
var ErrChannelNotFound = errors.New("channel not found")

// VoiceTransition is one member's voice-channel membership change.
//
// AfterMemberCount is the occupancy of the after-channel read at event time
// (the transitioning member included). It is zero when the member left voice
// entirely.
type VoiceTransition struct {
	MemberID        string
	BeforeChannelID string // empty if the member was not in voice before
	AfterChannelID  string // empty if the member left voice
	AfterMemberCount int
}

// Channel is a resolved channel handle.
type Channel struct {
	ID      string
	GuildID string
	Name    string
}

// MessageRef identifies a message for deletion.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Message is a previously sent message as seen by a history fetch.
// CreatedAt is always UTC.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	CreatedAt time.Time
}

func (m Message) Ref() MessageRef {
	return MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}
}

// Gateway is the chat-platform surface the bot consumes.
//
// Implementations (internal/adapters/discord) translate platform events into
// VoiceTransitions and expose the handful of REST operations the tracker and
// janitor need. All calls are bounded request/response operations; no retry
// policy is applied here.
type Gateway interface {
	// Start opens the platform connection and begins delivering voice
	// transitions to out. It does not block beyond the connection handshake.
	Start(ctx context.Context, out chan<- VoiceTransition) error
	Stop(ctx context.Context) error

	// ResolveChannel resolves a channel ID to a live handle on demand.
	// Returns ErrChannelNotFound when the ID is not visible to the bot.
	ResolveChannel(ctx context.Context, id string) (Channel, error)

	SendMessage(ctx context.Context, channelID, text string) (MessageRef, error)

	// MessagesSince fetches messages created after the given time, oldest
	// first, up to limit. The fetch is a single bounded scan; callers must
	// cap limit themselves.
	MessagesSince(ctx context.Context, channelID string, after time.Time, limit int) ([]Message, error)

	DeleteMessage(ctx context.Context, ref MessageRef) error

	// CurrentMembers returns the set of member IDs currently in the given
	// voice channel.
	CurrentMembers(ctx context.Context, channelID string) (map[string]struct{}, error)

	// SelfID returns the bot's own member ID, used to recognize its own
	// messages.
	SelfID() string
}

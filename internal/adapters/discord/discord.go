package discord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/saulrh/living-room-bot/internal/transport"
	logx "github.com/saulrh/living-room-bot/pkg/logx"
)

// fetchPageSize is the Discord API's per-request history cap.
const fetchPageSize = 100

type Config struct {
	Token string
}

// Adapter implements transport.Gateway on top of a discordgo session.
type Adapter struct {
	cfg Config
	log logx.Logger

	s *discordgo.Session

	runMu   sync.Mutex
	running bool
	remove  func() // unregisters the voice-state handler

	selfID string
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	// Voice-state tracking needs guild + voice state events; everything else
	// (send/fetch/delete) is plain REST.
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	s.StateEnabled = true
	return &Adapter{cfg: cfg, log: log, s: s}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.VoiceTransition) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}

	a.remove = a.s.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		if e == nil || e.VoiceState == nil {
			return
		}
		t := transport.VoiceTransition{
			MemberID:       e.UserID,
			AfterChannelID: e.ChannelID,
		}
		if e.BeforeUpdate != nil {
			t.BeforeChannelID = e.BeforeUpdate.ChannelID
		}
		if e.ChannelID != "" {
			// The session state has already applied this update, so the count
			// includes the transitioning member.
			t.AfterMemberCount = a.channelOccupancy(e.GuildID, e.ChannelID)
		}
		select {
		case out <- t:
		case <-ctx.Done():
		}
	})

	if err := a.s.Open(); err != nil {
		a.remove()
		a.remove = nil
		return fmt.Errorf("discord gateway open: %w", err)
	}

	u, err := a.s.User("@me")
	if err != nil {
		_ = a.s.Close()
		a.remove()
		a.remove = nil
		return fmt.Errorf("discord self lookup: %w", err)
	}
	a.selfID = u.ID
	a.running = true
	a.log.Info("discord gateway connected", logx.String("self_id", a.selfID))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	if a.remove != nil {
		a.remove()
		a.remove = nil
	}
	a.running = false
	return a.s.Close()
}

func (a *Adapter) SelfID() string { return a.selfID }

func (a *Adapter) ResolveChannel(ctx context.Context, id string) (transport.Channel, error) {
	ch, err := a.s.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		var rerr *discordgo.RESTError
		if errors.As(err, &rerr) && rerr.Message != nil && rerr.Message.Code == discordgo.ErrCodeUnknownChannel {
			return transport.Channel{}, fmt.Errorf("channel %s: %w", id, transport.ErrChannelNotFound)
		}
		return transport.Channel{}, err
	}
	if ch == nil {
		return transport.Channel{}, fmt.Errorf("channel %s: %w", id, transport.ErrChannelNotFound)
	}
	return transport.Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name}, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, text string) (transport.MessageRef, error) {
	m, err := a.s.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChannelID: channelID, MessageID: m.ID}, nil
}

// MessagesSince pages forward from the snowflake derived from after, oldest
// first, until limit messages are collected or history runs out.
func (a *Adapter) MessagesSince(ctx context.Context, channelID string, after time.Time, limit int) ([]transport.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	cursor := snowflakeFromTime(after)
	msgs := make([]transport.Message, 0, min(limit, fetchPageSize))
	for len(msgs) < limit {
		page := min(fetchPageSize, limit-len(msgs))
		batch, err := a.s.ChannelMessages(channelID, page, "", cursor, "", discordgo.WithContext(ctx))
		if err != nil {
			return msgs, err
		}
		if len(batch) == 0 {
			break
		}
		// The API does not guarantee ordering across query modes; normalize to
		// oldest-first before advancing the cursor.
		sort.Slice(batch, func(i, j int) bool { return snowflakeLess(batch[i].ID, batch[j].ID) })
		for _, m := range batch {
			msgs = append(msgs, transport.Message{
				ID:        m.ID,
				ChannelID: channelID,
				AuthorID:  authorID(m),
				CreatedAt: m.Timestamp.UTC(),
			})
		}
		cursor = batch[len(batch)-1].ID
		if len(batch) < page {
			break
		}
	}
	return msgs, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	return a.s.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
}

func (a *Adapter) CurrentMembers(ctx context.Context, channelID string) (map[string]struct{}, error) {
	ch, err := a.ResolveChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	g, err := a.s.State.Guild(ch.GuildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not in state: %w", ch.GuildID, err)
	}
	members := map[string]struct{}{}
	for _, vs := range g.VoiceStates {
		if vs != nil && vs.ChannelID == channelID {
			members[vs.UserID] = struct{}{}
		}
	}
	return members, nil
}

func (a *Adapter) channelOccupancy(guildID, channelID string) int {
	g, err := a.s.State.Guild(guildID)
	if err != nil {
		a.log.Warn("guild not in state for occupancy count", logx.String("guild_id", guildID), logx.Err(err))
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs != nil && vs.ChannelID == channelID {
			n++
		}
	}
	return n
}

func authorID(m *discordgo.Message) string {
	if m == nil || m.Author == nil {
		return ""
	}
	return m.Author.ID
}

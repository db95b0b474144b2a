// Package chat implements the per-room Chat Store: a bounded message ring
// with proximity/global/team/meeting/dm channels, emote extraction, and
// Safety-Registry-aware read filtering.
package chat

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/safety"
)

// DefaultCapacity is the ring size used when a room does not override it.
const DefaultCapacity = 1000

// Channel is the closed set of chat delivery scopes.
type Channel string

const (
	ChannelProximity Channel = "proximity"
	ChannelGlobal    Channel = "global"
	ChannelTeam      Channel = "team"
	ChannelMeeting   Channel = "meeting"
	ChannelDM        Channel = "dm"
)

var (
	// ErrUnknownChannel is returned for a Channel outside the closed set.
	ErrUnknownChannel = errors.New("unknown chat channel")
	// ErrMissingTeam is returned for a team send with no team id.
	ErrMissingTeam = errors.New("team channel requires a team id")
	// ErrNotTeamMember is returned when sending to a team the sender is not in.
	ErrNotTeamMember = errors.New("sender is not a member of the team")
	// ErrMissingMeeting is returned for a meeting send with no meeting room id.
	ErrMissingMeeting = errors.New("meeting channel requires a meeting room id")
	// ErrNotInMeeting is returned when sending to a meeting the sender has not joined.
	ErrNotInMeeting = errors.New("sender is not a participant in the meeting")
	// ErrMissingTarget is returned for a dm send with no target agent.
	ErrMissingTarget = errors.New("dm requires a target agent id")
	// ErrBlocked is returned when the recipient has blocked the sender (or vice versa).
	ErrBlocked = errors.New("sender and target have a mutual block")
)

var emotePattern = regexp.MustCompile(`:[a-z]+:`)

// emoteWhitelist restricts which :name: tokens are recognized as emotes;
// anything else is left as literal text.
var emoteWhitelist = map[string]struct{}{
	"smile": {}, "wave": {}, "laugh": {}, "thumbsup": {}, "heart": {},
	"clap": {}, "thinking": {}, "wow": {}, "sad": {}, "fire": {},
}

// Message is one delivered chat entry.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"fromEntityId"`
	Channel   Channel   `json:"channel"`
	TeamID    string    `json:"teamId,omitempty"`
	MeetingID string    `json:"meetingRoomId,omitempty"`
	TargetID  string    `json:"targetEntityId,omitempty"` // set only for ChannelDM
	Text      string    `json:"message"`
	Emotes    []string  `json:"emotes,omitempty"`
	TsMs      int64     `json:"tsMs"`
	CreatedAt time.Time `json:"-"`
}

// MembershipChecker validates whether an agent may post to a scoped channel.
type MembershipChecker interface {
	IsTeamMember(agentID, teamID string) bool
	IsMeetingParticipant(agentID, meetingID string) bool
}

// Store is one room's chat ring plus its membership and safety dependencies.
type Store struct {
	mu       sync.Mutex
	capacity int
	messages []Message
	safety   *safety.Registry
	members  MembershipChecker
}

// New builds an empty chat store. capacity <= 0 defaults to DefaultCapacity.
func New(capacity int, safetyRegistry *safety.Registry, members MembershipChecker) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, safety: safetyRegistry, members: members}
}

func newMessageID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return "msg_" + hex.EncodeToString(buf)
}

func extractEmotes(text string) []string {
	matches := emotePattern.FindAllString(text, -1)
	var emotes []string
	for _, m := range matches {
		name := m[1 : len(m)-1]
		if _, ok := emoteWhitelist[name]; ok {
			emotes = append(emotes, name)
		}
	}
	return emotes
}

// SendMessage validates, stamps, and stores one message, evicting the oldest
// batch if the ring is at capacity. teamID/meetingID/targetID are only
// meaningful for their corresponding channel.
func (s *Store) SendMessage(senderID string, channel Channel, teamID, meetingID, targetID, text string) (Message, error) {
	switch channel {
	case ChannelProximity, ChannelGlobal:
		// no membership restriction
	case ChannelTeam:
		if teamID == "" {
			return Message{}, ErrMissingTeam
		}
		if s.members != nil && !s.members.IsTeamMember(senderID, teamID) {
			return Message{}, ErrNotTeamMember
		}
	case ChannelMeeting:
		if meetingID == "" {
			return Message{}, ErrMissingMeeting
		}
		if s.members != nil && !s.members.IsMeetingParticipant(senderID, meetingID) {
			return Message{}, ErrNotInMeeting
		}
	case ChannelDM:
		if targetID == "" {
			return Message{}, ErrMissingTarget
		}
		if s.safety != nil && s.safety.IsBlockedEitherWay(senderID, targetID) {
			return Message{}, ErrBlocked
		}
	default:
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	now := time.Now()
	msg := Message{
		ID:        newMessageID(),
		SenderID:  senderID,
		Channel:   channel,
		TeamID:    teamID,
		MeetingID: meetingID,
		TargetID:  targetID,
		Text:      text,
		Emotes:    extractEmotes(text),
		TsMs:      now.UnixMilli(),
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if len(s.messages) > s.capacity {
		evict := int(math.Ceil(float64(s.capacity) * 0.1))
		if evict > len(s.messages) {
			evict = len(s.messages)
		}
		s.messages = s.messages[evict:]
	}
	return msg, nil
}

// ReadFor returns messages visible to viewerID, newest restriction applied
// first: proximity/global/team/meeting messages are hidden if either party has
// blocked the other; dm messages are visible only to the sender or target.
// An empty channel filter returns all channels the viewer may see. windowSec
// <= 0 means no time restriction.
func (s *Store) ReadFor(viewerID string, channelFilter Channel, windowSec int) []Message {
	s.mu.Lock()
	all := make([]Message, len(s.messages))
	copy(all, s.messages)
	s.mu.Unlock()

	var cutoff time.Time
	if windowSec > 0 {
		cutoff = time.Now().Add(-time.Duration(windowSec) * time.Second)
	}

	out := make([]Message, 0, len(all))
	for _, m := range all {
		if !cutoff.IsZero() && m.CreatedAt.Before(cutoff) {
			continue
		}
		if channelFilter != "" && m.Channel != channelFilter {
			continue
		}
		if m.Channel == ChannelDM {
			if m.SenderID != viewerID && m.TargetID != viewerID {
				continue
			}
		}
		if s.safety != nil && s.safety.IsBlockedEitherWay(viewerID, m.SenderID) {
			continue
		}
		if s.safety != nil && s.safety.IsMuted(viewerID, m.SenderID, time.Now()) {
			continue
		}
		out = append(out, m)
	}
	return out
}

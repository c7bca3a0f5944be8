// Package roster keeps the per-channel and per-space-member voice-state maps
// fed by the application gateway. Writes come from the coordinator only;
// reads serve presence display and the control API.
package roster

import (
	isync "github.com/imtaco/voice-client-exp/internal/sync"
	"github.com/imtaco/voice-client-exp/voice"
)

type memberKey struct {
	Space voice.SpaceID
	User  voice.UserID
}

type Roster struct {
	channels *isync.Map[voice.ChannelID, map[voice.UserID]voice.State]
	members  *isync.Map[memberKey, voice.State]
}

func New() *Roster {
	return &Roster{
		channels: isync.NewMap[voice.ChannelID, map[voice.UserID]voice.State](),
		members:  isync.NewMap[memberKey, voice.State](),
	}
}

// SyncChannel replaces one channel's roster with a full snapshot.
func (r *Roster) SyncChannel(channelID voice.ChannelID, states []voice.State) {
	users := make(map[voice.UserID]voice.State, len(states))
	for _, st := range states {
		users[st.UserID] = st
		r.members.Store(memberKey{Space: st.SpaceID, User: st.UserID}, st)
	}
	r.channels.Store(channelID, users)
}

// Apply folds a single-user delta in. A state without a channel removes the
// user from every channel map instead of filing them under an empty channel.
func (r *Roster) Apply(state voice.State) {
	if !state.InChannel() {
		r.RemoveUser(state.UserID)
		r.members.Delete(memberKey{Space: state.SpaceID, User: state.UserID})
		return
	}

	target := *state.ChannelID
	r.channels.WithLock(func(view isync.View[voice.ChannelID, map[voice.UserID]voice.State]) {
		view.Range(func(id voice.ChannelID, users map[voice.UserID]voice.State) bool {
			if id != target {
				delete(users, state.UserID)
			}
			return true
		})
		users, ok := view.Get(target)
		if !ok {
			users = map[voice.UserID]voice.State{}
			view.Set(target, users)
		}
		users[state.UserID] = state
	})
	r.members.Store(memberKey{Space: state.SpaceID, User: state.UserID}, state)
}

// RemoveMember drops the user's channel presence and the owning space's
// member record in one step, for a local leave that will not be followed by
// a no-channel delta.
func (r *Roster) RemoveMember(spaceID voice.SpaceID, userID voice.UserID) {
	r.RemoveUser(userID)
	r.members.Delete(memberKey{Space: spaceID, User: userID})
}

// RemoveUser drops the user from every channel map. Member records stay until
// an explicit no-channel delta clears them.
func (r *Roster) RemoveUser(userID voice.UserID) {
	r.channels.WithLock(func(view isync.View[voice.ChannelID, map[voice.UserID]voice.State]) {
		view.Range(func(_ voice.ChannelID, users map[voice.UserID]voice.State) bool {
			delete(users, userID)
			return true
		})
	})
}

// Channel returns the states of everyone currently in the channel.
func (r *Roster) Channel(channelID voice.ChannelID) []voice.State {
	var out []voice.State
	r.channels.WithLock(func(view isync.View[voice.ChannelID, map[voice.UserID]voice.State]) {
		users, ok := view.Get(channelID)
		if !ok {
			return
		}
		for _, st := range users {
			out = append(out, st)
		}
	})
	return out
}

// Member returns a space member's voice state for presence display.
func (r *Roster) Member(spaceID voice.SpaceID, userID voice.UserID) (voice.State, bool) {
	return r.members.Load(memberKey{Space: spaceID, User: userID})
}

// UserChannel reports which channel the user currently occupies.
func (r *Roster) UserChannel(userID voice.UserID) (voice.ChannelID, bool) {
	var found voice.ChannelID
	ok := false
	r.channels.WithLock(func(view isync.View[voice.ChannelID, map[voice.UserID]voice.State]) {
		view.Range(func(id voice.ChannelID, users map[voice.UserID]voice.State) bool {
			if _, in := users[userID]; in {
				found = id
				ok = true
				return false
			}
			return true
		})
	})
	return found, ok
}

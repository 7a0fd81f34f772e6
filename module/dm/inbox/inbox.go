package inbox

import (
	"context"
	"strconv"
	"strings"

	"DMSync/module/dm/live"
	"DMSync/module/dm/model"
	"DMSync/module/dm/store"
	"DMSync/tools/errs"
	"DMSync/tools/safe"
)

const DefaultLimit = 100

// Entry 会话列表一项，附带对方资料
type Entry struct {
	Conversation *model.Conversation `json:"conversation"`
	Peer         *model.User         `json:"peer"`
}

type Inbox struct {
	convs store.ConversationStore
	users store.UserDirectory
	bus   live.Bus
}

func New(convs store.ConversationStore, users store.UserDirectory, bus live.Bus) *Inbox {
	safe.MustNotNil(convs, "conversation store")
	safe.MustNotNil(users, "user directory")
	safe.MustNotNil(bus, "bus")
	return &Inbox{convs: convs, users: users, bus: bus}
}

// List returns the caller's conversations, most recent activity first.
func (in *Inbox) List(ctx context.Context, caller model.Caller) ([]Entry, error) {
	if !caller.Authenticated() {
		return nil, errs.ErrNotAuthenticated.Wrap()
	}
	return in.load(ctx, caller.UserID)
}

func (in *Inbox) Watch(ctx context.Context, caller model.Caller) (*live.Watch[[]Entry], error) {
	if !caller.Authenticated() {
		return nil, errs.ErrNotAuthenticated.Wrap()
	}
	var (
		last  string
		first = true
	)
	return live.Start[[]Entry](ctx, in.bus, live.KindInbox, caller.UserID, func(ctx context.Context) ([]Entry, bool, error) {
		list, err := in.load(ctx, caller.UserID)
		if err != nil {
			return nil, false, err
		}
		fp := fingerprint(list)
		changed := first || fp != last
		first, last = false, fp
		return list, changed, nil
	})
}

func (in *Inbox) load(ctx context.Context, userID string) ([]Entry, error) {
	convs, err := in.convs.ListConversations(ctx, userID, DefaultLimit)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapErr(err, "list conversations", "user", userID)
	}
	peers := make([]string, 0, len(convs))
	for _, c := range convs {
		if p, ok := c.Peer(userID); ok {
			peers = append(peers, p)
		}
	}
	profiles, err := in.users.GetUsers(ctx, peers)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapErr(err, "get users", "user", userID)
	}

	out := make([]Entry, 0, len(convs))
	for _, c := range convs {
		e := Entry{Conversation: c}
		if p, ok := c.Peer(userID); ok {
			if u, ok := profiles[p]; ok {
				e.Peer = u
			} else {
				// 资料缺失时只返回 id
				e.Peer = &model.User{ID: p}
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func fingerprint(list []Entry) string {
	var b strings.Builder
	for _, e := range list {
		b.WriteString(e.Conversation.ID)
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(e.Conversation.MaxSeq, 10))
		b.WriteByte(';')
	}
	return b.String()
}

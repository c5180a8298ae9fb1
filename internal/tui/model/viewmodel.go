package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/yarning/internal/bus"
	"github.com/matheus3301/yarning/internal/client"
	"github.com/matheus3301/yarning/internal/presence"
	"github.com/matheus3301/yarning/internal/reconcile"
	"github.com/matheus3301/yarning/internal/status"
	"github.com/matheus3301/yarning/internal/typing"
	"github.com/matheus3301/yarning/internal/wire"
)

const (
	conversationPage = 50
	historyPage      = 50
	flashTTL         = 5 * time.Second
)

// Directory lists and creates conversations on the relay.
type Directory interface {
	ListConversations(ctx context.Context, limit int) ([]wire.Conversation, error)
	CreateConversation(ctx context.Context, participantIDs []string) (*wire.CreateConversationResponse, error)
}

// ViewModel adapts the connection manager for the views and signals when
// they need to redraw.
type ViewModel struct {
	mu sync.RWMutex

	mgr           *client.Manager
	dir           Directory
	conversations []wire.Conversation
	active        string
	hasMore       bool
	acked         map[string]bool
	Flash         Flash

	refreshCh chan struct{}
}

// NewViewModel creates a view model over mgr.
func NewViewModel(mgr *client.Manager, dir Directory) *ViewModel {
	return &ViewModel{
		mgr:       mgr,
		dir:       dir,
		acked:     make(map[string]bool),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// Watch turns manager events into refresh signals until ctx is done.
func (vm *ViewModel) Watch(ctx context.Context) {
	ch, unsub := vm.mgr.Bus().Subscribe("", 128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			vm.observe(ctx, evt)
			vm.signalRefresh()
		}
	}
}

func (vm *ViewModel) observe(ctx context.Context, evt bus.Event) {
	switch p := evt.Payload.(type) {
	case client.MessageFailed:
		vm.Flash.Set(FlashError, "send failed: "+p.Err.Error(), flashTTL)
	case *client.OperationError:
		if p.Op != wire.EventSendMessage {
			vm.Flash.Set(FlashError, p.Error(), flashTTL)
		}
	case client.MessagesChanged:
		if p.ConversationID == vm.Active() {
			vm.ackVisible(p.ConversationID)
		}
	case status.StatusChange:
		if p.To == status.Authenticated {
			if err := vm.LoadConversations(ctx); err != nil {
				vm.Flash.Set(FlashError, "load conversations: "+err.Error(), flashTTL)
			}
		}
	}
}

// KeepConnected connects and, after every channel loss, reconnects with
// exponential backoff between minDelay and maxDelay. It gives up when the
// relay rejects the credential.
func (vm *ViewModel) KeepConnected(ctx context.Context, minDelay, maxDelay time.Duration) {
	changes, unsub := vm.mgr.Bus().Subscribe("connection.", 16)
	defer unsub()

	delay := minDelay
	for {
		err := vm.mgr.Connect(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, client.ErrUnauthenticated), errors.Is(err, client.ErrNoCredential):
			vm.Flash.Set(FlashError, err.Error(), time.Hour)
			vm.signalRefresh()
			return
		case err != nil:
			vm.Flash.Set(FlashError, fmt.Sprintf("connect failed, retrying in %s", delay), delay)
			vm.signalRefresh()
			if !sleep(ctx, delay) {
				return
			}
			delay = min(delay*2, maxDelay)
			continue
		}

		delay = minDelay
		for vm.mgr.State() != status.Error {
			select {
			case <-ctx.Done():
				return
			case <-changes:
			}
		}
		if !sleep(ctx, minDelay) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// LoadConversations refreshes the conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	convs, err := vm.dir.ListConversations(ctx, conversationPage)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = convs
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Conversations returns the cached conversation list.
func (vm *ViewModel) Conversations() []wire.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.conversations)
}

// Create opens (or finds) a conversation with userIDs and returns its id.
func (vm *ViewModel) Create(ctx context.Context, userIDs []string) (string, error) {
	if len(userIDs) == 0 {
		return "", errors.New("at least one user id is required")
	}
	resp, err := vm.dir.CreateConversation(ctx, userIDs)
	if err != nil {
		return "", err
	}
	if err := vm.LoadConversations(ctx); err != nil {
		return "", err
	}
	return resp.Conversation.ID, nil
}

// Open joins id, loads its newest page and acknowledges what is visible.
func (vm *ViewModel) Open(ctx context.Context, id string) error {
	if err := vm.mgr.JoinConversation(id); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.active = id
	vm.mu.Unlock()

	more, err := vm.mgr.LoadHistory(ctx, id, wire.Cursor{}, historyPage)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.hasMore = more
	vm.mu.Unlock()
	vm.ackVisible(id)
	vm.signalRefresh()
	return nil
}

// LoadOlder fetches the page before the oldest loaded message.
func (vm *ViewModel) LoadOlder(ctx context.Context) error {
	id := vm.Active()
	if id == "" {
		return client.ErrNotJoined
	}
	vm.mu.RLock()
	more := vm.hasMore
	vm.mu.RUnlock()
	if !more {
		return nil
	}

	var before wire.Cursor
	for _, m := range vm.mgr.Messages(id) {
		if !m.Pending() {
			before = wire.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
			break
		}
	}
	more, err := vm.mgr.LoadHistory(ctx, id, before, historyPage)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.hasMore = more
	vm.mu.Unlock()
	return nil
}

// Close leaves the active conversation.
func (vm *ViewModel) Close() error {
	vm.mu.Lock()
	vm.active = ""
	vm.mu.Unlock()
	return vm.mgr.LeaveConversation()
}

// Active returns the open conversation id.
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Send sends text to the open conversation.
func (vm *ViewModel) Send(text string) error {
	_, err := vm.mgr.SendMessage(vm.Active(), text)
	return err
}

// Typing reports a keystroke in the composer.
func (vm *ViewModel) Typing() {
	if id := vm.Active(); id != "" {
		vm.mgr.StartTyping(id)
	}
}

// DeleteLast deletes the user's newest confirmed message in the open conversation.
func (vm *ViewModel) DeleteLast() error {
	id := vm.Active()
	if id == "" {
		return client.ErrNotJoined
	}
	self := vm.mgr.Self().UserID
	msgs := vm.mgr.Messages(id)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID == self && !msgs[i].Pending() {
			return vm.mgr.DeleteMessage(id, msgs[i].ID)
		}
	}
	return errors.New("nothing to delete")
}

// Messages returns the open conversation's list.
func (vm *ViewModel) Messages() []reconcile.Message {
	id := vm.Active()
	if id == "" {
		return nil
	}
	return vm.mgr.Messages(id)
}

// Self returns the authenticated identity.
func (vm *ViewModel) Self() wire.Authenticated {
	return vm.mgr.Self()
}

// Connection returns the status bar text for the connection.
func (vm *ViewModel) Connection() string {
	return ConnectionLabel(vm.mgr.State(), vm.mgr.Self(), vm.mgr.Pending())
}

// TypingLine describes who is typing in the open conversation.
func (vm *ViewModel) TypingLine() string {
	id := vm.Active()
	if id == "" {
		return ""
	}
	return TypingLine(vm.mgr.TypingUsers(id))
}

// Title labels a conversation by its other participants and their presence.
func (vm *ViewModel) Title(c wire.Conversation) string {
	self := vm.mgr.Self().UserID
	var parts []string
	for _, id := range c.ParticipantIDs {
		if id == self {
			continue
		}
		e, ok := vm.mgr.Presence(id)
		parts = append(parts, id+PresenceMark(e, ok))
	}
	if len(parts) == 0 {
		return "(only you)"
	}
	return strings.Join(parts, ", ")
}

// ConversationTitle is Title for a cached conversation id.
func (vm *ViewModel) ConversationTitle(id string) string {
	for _, c := range vm.Conversations() {
		if c.ID == id {
			return vm.Title(c)
		}
	}
	return id
}

func (vm *ViewModel) ackVisible(id string) {
	self := vm.mgr.Self().UserID
	if self == "" {
		return
	}
	vm.mu.Lock()
	ids := Unacked(vm.mgr.Messages(id), self, vm.acked)
	for _, mid := range ids {
		vm.acked[mid] = true
	}
	vm.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	if err := vm.mgr.MarkAsRead(id, ids...); err != nil {
		vm.Flash.Set(FlashError, "mark read: "+err.Error(), flashTTL)
	}
}

// Unacked returns the confirmed messages from other users that are not read
// and were not acknowledged yet.
func Unacked(msgs []reconcile.Message, self string, acked map[string]bool) []string {
	var ids []string
	for _, m := range msgs {
		if m.Pending() || m.SenderID == self || m.Status == wire.StatusRead || acked[m.ID] {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids
}

// ConnectionLabel shows "connecting…" for every state but authenticated.
func ConnectionLabel(state status.State, self wire.Authenticated, pending int) string {
	if state != status.Authenticated {
		if pending > 0 {
			return fmt.Sprintf("connecting… (%d queued)", pending)
		}
		return "connecting…"
	}
	name := self.UserName
	if name == "" {
		name = self.UserID
	}
	return "online as " + name
}

// TypingLine renders the remote typing set.
func TypingLine(users []typing.User) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		if u.UserName != "" {
			names = append(names, u.UserName)
		} else {
			names = append(names, u.UserID)
		}
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%d people are typing…", len(names))
	}
}

// PresenceMark is appended to a user id in titles.
func PresenceMark(e presence.Entry, ok bool) string {
	switch {
	case !ok:
		return ""
	case e.Online:
		return " ●"
	case !e.LastSeen.IsZero():
		return " (seen " + e.LastSeen.Local().Format("Jan 2 15:04") + ")"
	default:
		return " ○"
	}
}

package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/yarning/internal/reconcile"
	"github.com/matheus3301/yarning/internal/wire"
	"github.com/rivo/tview"
)

// MessageView displays one conversation and the typing line under it.
type MessageView struct {
	*tview.Flex
	messages *tview.TextView
	typing   *tview.TextView
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	typing := tview.NewTextView().SetDynamicColors(true)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tv, 0, 1, true).
		AddItem(typing, 1, 0, false)

	return &MessageView{Flex: flex, messages: tv, typing: typing}
}

// Messages returns the scrollable message pane.
func (mv *MessageView) Messages() *tview.TextView {
	return mv.messages
}

// SetTitleText updates the border title.
func (mv *MessageView) SetTitleText(title string) {
	mv.messages.SetTitle(" " + tview.Escape(sanitizeForTerminal(title)) + " ")
}

// SetTyping shows line under the messages.
func (mv *MessageView) SetTyping(line string) {
	mv.typing.Clear()
	if line != "" {
		_, _ = fmt.Fprintf(mv.typing, " [::i]%s[-:-:-]", tview.Escape(line))
	}
}

// Update redraws msgs, oldest first.
func (mv *MessageView) Update(msgs []reconcile.Message, self string) {
	mv.messages.Clear()
	now := time.Now()
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(renderMessage(m, self, now))
	}
	_, _ = fmt.Fprint(mv.messages, b.String())
	mv.messages.ScrollToEnd()
}

func renderMessage(m reconcile.Message, self string, now time.Time) string {
	sender := m.SenderID
	mark := ""
	if m.SenderID == self {
		sender = "You"
		mark = " " + statusMark(m.Status)
	}
	ts := formatTimestamp(m.CreatedAt, now)
	body := tview.Escape(sanitizeForTerminal(m.Content))
	return fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n", tview.Escape(sender), ts, mark, body)
}

func statusMark(s wire.MessageStatus) string {
	switch s {
	case wire.StatusSending:
		return "[::d]…[-:-:-]"
	case wire.StatusSent:
		return "✓"
	case wire.StatusDelivered:
		return "✓✓"
	case wire.StatusRead:
		return "[blue]✓✓[-]"
	case wire.StatusFailed:
		return "[red]failed[-]"
	default:
		return ""
	}
}

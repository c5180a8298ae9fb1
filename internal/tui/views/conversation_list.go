package views

import (
	"time"

	"github.com/matheus3301/yarning/internal/wire"
	"github.com/rivo/tview"
)

// ConversationList is the table of the user's conversations.
type ConversationList struct {
	*tview.Table
	ids []string
}

// NewConversationList creates an empty list.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Conversations ")

	return &ConversationList{Table: table}
}

// Update redraws the list. title labels each conversation.
func (cl *ConversationList) Update(convs []wire.Conversation, title func(wire.Conversation) string) {
	selected := cl.Selected()
	cl.Clear()
	cl.ids = cl.ids[:0]

	cl.SetCell(0, 0, tview.NewTableCell(" With").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	now := time.Now()
	for i, c := range convs {
		row := i + 1
		cl.ids = append(cl.ids, c.ID)
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(title(c)))).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt, now)).SetMaxWidth(12))
		if c.ID == selected {
			cl.Select(row, 0)
		}
	}
}

// Selected returns the id of the highlighted conversation.
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // header
	if idx >= 0 && idx < len(cl.ids) {
		return cl.ids[idx]
	}
	return ""
}

func formatTimestamp(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms).In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/yarning/internal/tui/model"
	"github.com/rivo/tview"
)

// StatusBar displays the profile, the connection and transient messages.
type StatusBar struct {
	*tview.TextView
	profile    string
	connection string
	flash      string
	flashLevel model.FlashLevel
	hints      []string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, connection: "connecting…"}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetConnection updates the connection label.
func (sb *StatusBar) SetConnection(label string) {
	sb.connection = label
	sb.render()
}

// SetFlash sets a temporary message; empty clears it.
func (sb *StatusBar) SetFlash(msg string, level model.FlashLevel) {
	sb.flash = msg
	sb.flashLevel = level
	sb.render()
}

// SetHints shows the key hints of the current page.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, statusLine(sb.profile, sb.connection, sb.flash, sb.flashLevel, sb.hints, time.Now()))
}

func statusLine(profile, connection, flash string, level model.FlashLevel, hints []string, now time.Time) string {
	color := "green"
	if !strings.HasPrefix(connection, "online") {
		color = "yellow"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | %s", profile, color, connection, now.Format("15:04"))
	switch {
	case flash != "" && level == model.FlashError:
		line += fmt.Sprintf(" | [red]%s[-]", tview.Escape(flash))
	case flash != "":
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(flash))
	case len(hints) > 0:
		line += " | [::d]" + strings.Join(hints, "  ") + "[-:-:-]"
	}
	return line
}

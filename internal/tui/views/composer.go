package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages and commands.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onChange func()
	onCancel func()
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		if text != "" && c.onChange != nil {
			c.onChange()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := c.GetText()
			if text != "" && c.onSend != nil {
				c.SetText("")
				c.onSend(text)
			}
		case tcell.KeyEscape:
			if c.onCancel != nil {
				c.onCancel()
			}
		}
	})

	return c
}

// SetOnSend sets the callback when a line is submitted.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnChange sets the callback for every non-empty edit.
func (c *Composer) SetOnChange(fn func()) {
	c.onChange = fn
}

// SetOnCancel sets the callback for escape.
func (c *Composer) SetOnCancel(fn func()) {
	c.onCancel = fn
}

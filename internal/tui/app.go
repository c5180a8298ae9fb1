package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/yarning/internal/tui/keys"
	"github.com/matheus3301/yarning/internal/tui/model"
	"github.com/matheus3301/yarning/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"

	flashTTL     = 5 * time.Second
	retryMin     = time.Second
	retryMax     = 30 * time.Second
	tickInterval = time.Second
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	logger    *zap.Logger
	registry  *keys.Registry
	statusBar *views.StatusBar
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, profileName string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		logger:    logger,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

// Run starts the connection, the refresh loop and the UI, and blocks until
// the user quits.
func (a *App) Run() error {
	defer a.cancel()

	go a.vm.Watch(a.ctx)
	go a.vm.KeepConnected(a.ctx, retryMin, retryMax)
	go a.refreshLoop()

	return a.app.Run()
}

func (a *App) stop() {
	a.cancel()
	a.app.Stop()
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: a.stop,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':',
		Description: "::command", Visible: true,
		Handler: func() { a.prompt(":") },
	})
	a.registry.AddView(pageConversations, &keys.Action{
		Key: tcell.KeyRune, Rune: 'n',
		Description: "n:new", Visible: true,
		Handler: func() { a.prompt(":new ") },
	})
	a.registry.AddView(pageConversations, &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Description: "r:refresh", Visible: true,
		Handler: func() { a.async("refresh", a.vm.LoadConversations) },
	})
	a.registry.AddView(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Description: "i:write", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.AddView(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'o',
		Description: "o:older", Visible: true,
		Handler: func() { a.async("load older", a.vm.LoadOlder) },
	})
	a.registry.AddView(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'd',
		Description: "d:delete last", Visible: true,
		Handler: func() { a.report("delete", a.vm.DeleteLast()) },
	})
	a.registry.AddView(pageThread, &keys.Action{
		Key:     tcell.KeyEscape,
		Handler: a.closeThread,
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if id := a.convList.Selected(); id != "" {
			a.openThread(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		if strings.HasPrefix(text, ":") {
			a.runCommand(ParseCommand(text[1:]))
			return
		}
		if a.vm.Active() == "" {
			a.flash(model.FlashError, "open a conversation first")
			return
		}
		a.report("send", a.vm.Send(text))
	})

	a.composer.SetOnChange(func() {
		if !strings.HasPrefix(a.composer.GetText(), ":") {
			a.vm.Typing()
		}
	})

	a.composer.SetOnCancel(func() {
		a.composer.SetText("")
		a.focusPage()
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageConversations, a.convList, true, true)
	a.pages.AddPage(pageThread, a.msgView, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.composer, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Let the composer handle all keys normally.
		if a.composer.HasFocus() {
			return event
		}

		page, _ := a.pages.GetFrontPage()
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "new":
		users := strings.Fields(cmd.Args)
		go func() {
			id, err := a.vm.Create(a.ctx, users)
			if err != nil {
				a.report("new", err)
				return
			}
			a.app.QueueUpdateDraw(func() { a.openThread(id) })
		}()
	case "open":
		a.openThread(cmd.Args)
	case "leave":
		a.closeThread()
	case "older":
		a.async("load older", a.vm.LoadOlder)
	case "delete":
		a.report("delete", a.vm.DeleteLast())
	case "q", "quit":
		a.stop()
	default:
		a.flash(model.FlashError, "unknown command: "+cmd.Name)
	}
	a.focusPage()
}

func (a *App) openThread(id string) {
	if id == "" {
		return
	}
	a.msgView.SetTitleText(a.vm.ConversationTitle(id))
	a.pages.SwitchToPage(pageThread)
	a.app.SetFocus(a.composer.InputField)
	a.async("open", func(ctx context.Context) error {
		return a.vm.Open(ctx, id)
	})
}

func (a *App) closeThread() {
	if a.vm.Active() != "" {
		a.report("leave", a.vm.Close())
	}
	a.pages.SwitchToPage(pageConversations)
	a.app.SetFocus(a.convList)
	a.render()
}

func (a *App) focusPage() {
	if page, _ := a.pages.GetFrontPage(); page == pageThread {
		a.app.SetFocus(a.msgView.Messages())
		return
	}
	a.app.SetFocus(a.convList)
}

func (a *App) prompt(prefix string) {
	a.composer.SetText(prefix)
	a.app.SetFocus(a.composer.InputField)
}

// async runs fn off the UI goroutine and reports its error.
func (a *App) async(op string, fn func(context.Context) error) {
	go func() {
		if err := fn(a.ctx); err != nil {
			a.report(op, err)
			a.app.QueueUpdateDraw(a.render)
		}
	}()
}

func (a *App) report(op string, err error) {
	if err == nil {
		return
	}
	a.logger.Warn("tui operation failed", zap.String("op", op), zap.Error(err))
	a.vm.Flash.Set(model.FlashError, op+": "+err.Error(), flashTTL)
}

func (a *App) flash(level model.FlashLevel, msg string) {
	a.vm.Flash.Set(level, msg, flashTTL)
	a.render()
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.RefreshCh():
		case <-ticker.C:
		}
		a.app.QueueUpdateDraw(a.render)
	}
}

// render runs on the UI goroutine.
func (a *App) render() {
	page, _ := a.pages.GetFrontPage()

	a.statusBar.SetConnection(a.vm.Connection())
	msg, level := a.vm.Flash.Get()
	a.statusBar.SetFlash(msg, level)
	a.statusBar.SetHints(a.registry.Hints(page))

	a.convList.Update(a.vm.Conversations(), a.vm.Title)

	if id := a.vm.Active(); id != "" {
		a.msgView.SetTitleText(a.vm.ConversationTitle(id))
		a.msgView.Update(a.vm.Messages(), a.vm.Self().UserID)
		a.msgView.SetTyping(a.vm.TypingLine())
	}
}

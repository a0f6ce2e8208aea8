package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/imon/internal/model"
	"github.com/dustin/go-humanize"
	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"
)

const (
	viewHeader   = "header"
	viewFooter   = "footer"
	viewSessions = "sessions"
	viewDetails  = "details"
)

// Loader fetches the task log to display, newest first.
type Loader func() ([]model.Task, error)

type UI struct {
	title string
	load  Loader
	now   func() time.Time
	gui   *gocui.Gui

	tasks    []model.Task
	selected int
	focus    string
	status   string
}

type layout struct {
	leftWidth int
}

func newUI(title string, load Loader) *UI {
	return &UI{
		title: title,
		load:  load,
		now:   time.Now,
		focus: viewSessions,
	}
}

// Run shows the task log returned by load until the user quits.
func Run(title string, load Loader) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ui := newUI(title, load)
	ui.gui = gui
	gui.Mouse = true

	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}
	if err := ui.loadTasks(); err != nil {
		return err
	}

	if err := gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}

	return nil
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	bindings := []struct {
		view    string
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{"", gocui.KeyCtrlC, u.quit},
		{"", 'q', u.quit},
		{"", 'r', u.reload},
		{"", gocui.KeyTab, u.switchFocus},
		{"", '1', u.focusSessions},
		{"", '2', u.focusDetails},
		{viewSessions, gocui.KeyArrowDown, u.moveDown},
		{viewSessions, 'j', u.moveDown},
		{viewSessions, gocui.KeyArrowUp, u.moveUp},
		{viewSessions, 'k', u.moveUp},
		{viewDetails, gocui.KeyArrowDown, u.scrollDown},
		{viewDetails, 'j', u.scrollDown},
		{viewDetails, gocui.KeyArrowUp, u.scrollUp},
		{viewDetails, 'k', u.scrollUp},
	}
	for _, b := range bindings {
		if err := gui.SetKeybinding(b.view, b.key, gocui.ModNone, b.handler); err != nil {
			return err
		}
	}
	return u.bindMouseScroll(gui)
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.Wrap = true
	headerView.FgColor = gocui.ColorDefault
	u.renderHeader(headerView)

	footerY1 := maxY - 2
	if footerY1 < 1 {
		footerY1 = 1
	}
	footerY0 := footerY1 - 1
	if footerY0 < 1 {
		footerY0 = 1
	}
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom <= bodyTop {
		return nil
	}

	l := computeLayout(maxX)
	leftX1 := l.leftWidth - 1
	rightX0 := leftX1 + 1
	if rightX0 >= maxX {
		rightX0 = leftX1
	}

	sessionsView, err := gui.SetView(viewSessions, 0, bodyTop, leftX1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		sessionsView.Title = "1 Sessions"
	}
	applyViewStyle(sessionsView, u.focus == viewSessions, true)
	u.renderSessions(sessionsView, u.focus == viewSessions)

	detailsView, err := gui.SetView(viewDetails, rightX0, bodyTop, maxX-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		detailsView.Title = "2 Details"
		detailsView.Wrap = true
	}
	applyViewStyle(detailsView, u.focus == viewDetails, false)
	u.renderDetails(detailsView)

	if gui.CurrentView() == nil {
		_, _ = gui.SetCurrentView(u.focus)
	}

	return nil
}

func computeLayout(width int) layout {
	safeWidth := max(width-2, 20)
	leftWidth := safeWidth / 2
	if leftWidth < 30 {
		leftWidth = 30
	}
	if leftWidth > safeWidth-18 {
		leftWidth = max(safeWidth/2, 1)
	}
	return layout{leftWidth: leftWidth}
}

func (u *UI) loadTasks() error {
	tasks, err := u.load()
	if err != nil {
		return err
	}
	u.tasks = tasks
	if u.selected >= len(u.tasks) {
		u.selected = max(len(u.tasks)-1, 0)
	}
	return nil
}

// summary returns the number of sessions and the time worked across them.
func (u *UI) summary() (int, time.Duration) {
	var total time.Duration
	for _, task := range u.tasks {
		total += worked(task, u.now())
	}
	return len(u.tasks), total
}

// worked is the productive time of task, counting the running stretch of
// an open session up to now.
func worked(task model.Task, now time.Time) time.Duration {
	switch task.State {
	case model.StateBegin:
		return now.Sub(task.BeginTime).Truncate(time.Second)
	case model.StateBack:
		return task.Elapsed() + now.Sub(task.BeginTime).Truncate(time.Second)
	}
	return task.Elapsed()
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	sessions, total := u.summary()
	fmt.Fprintf(view, "%s | Sessions: %d | Worked: %s", u.title, sessions, formatDuration(total))
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	view.SetCursor(0, 0)

	fmt.Fprintln(view, "j/k move | tab cycle | 1-2 panes | r reload | q quit")
	if u.status != "" {
		fmt.Fprint(view, u.status)
	}
}

func (u *UI) renderSessions(view *gocui.View, focused bool) {
	view.Clear()
	if len(u.tasks) == 0 {
		fmt.Fprintln(view, "  no sessions yet")
		return
	}
	for index, task := range u.tasks {
		prefix := " "
		if index == u.selected {
			if focused {
				prefix = ">"
			} else {
				prefix = "*"
			}
		}
		fmt.Fprintf(view, "%s %s %-5s %8s  %s\n", prefix, task.BeginTime.Format("2006-01-02 15:04"), task.State, formatDuration(worked(task, u.now())), task.Name)
	}
	if focused {
		view.SetCursor(0, min(u.selected, len(u.tasks)-1))
	}
}

func (u *UI) renderDetails(view *gocui.View) {
	view.Clear()
	task := u.selectedTask()
	if task == nil {
		return
	}
	now := u.now()
	fmt.Fprintf(view, "Name:     %s\n", task.Name)
	fmt.Fprintf(view, "State:    %s\n", stateLabel(task.State))
	fmt.Fprintf(view, "Started:  %s (%s)\n", task.BeginTime.Format(time.RFC1123), humanize.RelTime(task.BeginTime, now, "ago", "from now"))
	fmt.Fprintf(view, "Last:     %s (%s)\n", task.EndTime.Format(time.RFC1123), humanize.RelTime(task.EndTime, now, "ago", "from now"))
	fmt.Fprintf(view, "Worked:   %s\n", formatDuration(worked(*task, now)))
}

func stateLabel(state model.TaskState) string {
	switch state {
	case model.StateBegin:
		return "working"
	case model.StateBreak:
		return "on a break"
	case model.StateBack:
		return "working (resumed)"
	case model.StateEnd:
		return "finished"
	}
	return strings.ToLower(string(state))
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func (u *UI) selectedTask() *model.Task {
	if u.selected < 0 || u.selected >= len(u.tasks) {
		return nil
	}
	return &u.tasks[u.selected]
}

func (u *UI) bindMouseScroll(gui *gocui.Gui) error {
	for _, name := range []string{viewSessions, viewDetails} {
		if err := gui.SetKeybinding(name, gocui.MouseWheelUp, gocui.ModNone, u.scrollUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelDown, gocui.ModNone, u.scrollDown); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) scrollUp(gui *gocui.Gui, view *gocui.View) error {
	if view == nil && gui != nil {
		view = gui.CurrentView()
	}
	if view == nil {
		return nil
	}
	view.ScrollUp(1)
	return nil
}

func (u *UI) scrollDown(gui *gocui.Gui, view *gocui.View) error {
	if view == nil && gui != nil {
		view = gui.CurrentView()
	}
	if view == nil {
		return nil
	}
	view.ScrollDown(1)
	return nil
}

func (u *UI) switchFocus(gui *gocui.Gui, _ *gocui.View) error {
	next := viewDetails
	if u.focus == viewDetails {
		next = viewSessions
	}
	return u.setFocus(gui, next)
}

func (u *UI) focusSessions(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewSessions)
}

func (u *UI) focusDetails(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewDetails)
}

func (u *UI) setFocus(gui *gocui.Gui, name string) error {
	u.focus = name
	if gui == nil {
		return nil
	}
	_, err := gui.SetCurrentView(name)
	return err
}

func (u *UI) moveDown(_ *gocui.Gui, _ *gocui.View) error {
	if u.selected < len(u.tasks)-1 {
		u.selected++
	}
	return nil
}

func (u *UI) moveUp(_ *gocui.Gui, _ *gocui.View) error {
	if u.selected > 0 {
		u.selected--
	}
	return nil
}

// reload keeps the previous log on screen when the fetch fails.
func (u *UI) reload(_ *gocui.Gui, _ *gocui.View) error {
	if err := u.loadTasks(); err != nil {
		u.status = "reload failed: " + err.Error()
		return nil
	}
	u.status = fmt.Sprintf("reloaded %s", u.now().Format("15:04:05"))
	return nil
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func applyViewStyle(view *gocui.View, focused bool, highlight bool) {
	view.Frame = true
	view.Highlight = focused && highlight
	view.HighlightInactive = false
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	view.InactiveViewSelBgColor = gocui.ColorDefault
	if focused {
		view.FrameColor = gocui.ColorCyan
		view.TitleColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
		view.TitleColor = gocui.ColorDefault
	}
}

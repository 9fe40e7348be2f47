// Package tray provides the system tray menu of vistrain. The tray is also
// a pipeline output sink so it can show the most recent detection.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/sink"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle   func(running bool)
	onSettings func()
	onQuit     func()
	running    bool
	last       string
	frames     int
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback run when processing is started or stopped from the menu.
func (t *Tray) OnToggle(fn func(running bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSettings sets the callback run when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback run when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetTitle("vistrain")
	systray.SetTooltip("vistrain video classifier")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.running), "Start or stop processing")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem(lastTitle(t.last), "Last detection")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Trainer...", "Open the trainer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit vistrain")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func toggleTitle(running bool) string {
	if running {
		return "● Running"
	}
	return "○ Stopped"
}

func lastTitle(last string) string {
	if last == "" {
		return "Last: none"
	}
	return "Last: " + last
}

// handleToggle flips the processing state and runs the toggle callback.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.running = !t.running
	running := t.running
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(running))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(running)
	}
}

func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// LastDetection returns the text shown in the "Last" menu item.
func (t *Tray) LastDetection() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// IsRunning reports whether the tray believes processing is running.
func (t *Tray) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// SetRunning updates the toggle for sessions started or ended elsewhere,
// such as over HTTP or at end of stream. The toggle callback is not run.
func (t *Tray) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = running
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(running))
	}
}

func (t *Tray) Name() string { return "tray" }

func (t *Tray) ProcessInput(frame gocv.Mat) {
	t.mu.Lock()
	t.frames++
	t.mu.Unlock()
}

func (t *Tray) ProcessOutput(frame, mask gocv.Mat, contours gocv.PointsVector, classifierName string) {
	boxes := sink.Regions(mask, contours)
	if len(boxes) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	last := fmt.Sprintf("%s (frame %d)", classifierName, t.frames)
	if len(boxes) > 1 {
		last = fmt.Sprintf("%s x%d (frame %d)", classifierName, len(boxes), t.frames)
	}
	t.last = last
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(last))
	}
}

func (t *Tray) StartRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = 0
	t.last = ""
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(""))
	}
}

func (t *Tray) StopRunning() {}

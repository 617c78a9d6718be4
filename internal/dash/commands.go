package dash

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/normanking/troupe/internal/bus"
)

// refreshInterval drives the periodic table refresh.
const refreshInterval = 2 * time.Second

// eventMsg carries one bus event into the update loop.
type eventMsg struct {
	event bus.Event
}

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// waitForEvent delivers the next tapped bus event. The update loop re-arms
// it after each eventMsg so the channel drains one message per cycle.
func waitForEvent(ch <-chan bus.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{event: ev}
	}
}

// tick schedules the next refresh.
func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

package tasks

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI, TUI or SSE stream for display.
type ProgressUpdate struct {
	Phase   Phase   `json:"phase"`
	Message string  `json:"message"`
	Percent float64 `json:"percent"` // 0 to 100, monotonic within a run
	Current int     `json:"current"` // Entities processed in this phase
	Total   int     `json:"total"`   // Entities in this phase, 0 if unknown
}

// LogEvent mirrors a log line emitted by an engine.
type LogEvent struct {
	Level   log.Level `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Event is one item on a [Broadcaster]. Exactly one field is set.
type Event struct {
	Progress *ProgressUpdate `json:"progress,omitempty"`
	Log      *LogEvent       `json:"log,omitempty"`
}

// Operation phase enumeration
type Phase int

const (
	PhaseStart Phase = iota
	PhaseCustomers
	PhaseSites
	PhaseRoles
	PhaseAccessGroups
	PhaseUsers
	PhaseProperties
	PhaseDiscovery
	PhaseExport
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "Migration"
	case PhaseCustomers:
		return "Customers"
	case PhaseSites:
		return "Sites"
	case PhaseRoles:
		return "Roles"
	case PhaseAccessGroups:
		return "Access Groups"
	case PhaseUsers:
		return "Users"
	case PhaseProperties:
		return "Properties"
	case PhaseDiscovery:
		return "Discovery"
	case PhaseExport:
		return "Export"
	case PhaseComplete:
		return "Complete"
	default:
		return ""
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func phaseUpdate(phase Phase, percent float64, format string, args ...any) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		Message: fmt.Sprintf(format, args...),
		Percent: percent,
	}
}

// entityUpdate places entity current of total inside the [from, to] percent band of a phase.
func entityUpdate(phase Phase, from, to float64, current, total int, message string) ProgressUpdate {
	percent := to
	if total > 0 {
		percent = from + (to-from)*float64(current)/float64(total)
	}
	return ProgressUpdate{
		Phase:   phase,
		Message: message,
		Percent: percent,
		Current: current,
		Total:   total,
	}
}

// Package overlay owns the lifecycle of the single floating diagnostics
// window: it re-derives the diagnostic list on every host event, formats
// it, and reconciles the float's existence, size, position and content
// against what is already on screen.
package overlay

import (
	"diagpane/diag"

	"github.com/neovim/go-client/nvim"
)

// Event names delivered from the editor over RPC.
const (
	EventDiagnosticsChanged = "diagnostics_changed"
	EventBufEnter           = "buf_enter"
	EventWinEnter           = "win_enter"
	EventWinScrolled        = "win_scrolled"
	EventInsertEnter        = "insert_enter"
	EventInsertLeave        = "insert_leave"
)

// Float pairs the scratch buffer and the window behind the overlay. The
// two are always created and destroyed together.
type Float struct {
	Buf nvim.Buffer
	Win nvim.Window
}

// Host is the editor surface the controller drives. The concrete
// implementation lives in the nvimhost package; tests substitute a mock.
type Host interface {
	// Snapshot reads the live diagnostic list for a buffer.
	Snapshot(buf nvim.Buffer) ([]*diag.Diagnostic, error)
	// AttachedClients returns attached LSP client names in declaration order.
	AttachedClients(buf nvim.Buffer) ([]string, error)
	// EditorSize returns the full editor grid size in columns and rows.
	EditorSize() (cols, rows int, err error)
	// Mode returns the editor's current mode string ("n", "i", ...).
	Mode() (string, error)

	// ConfigureDiagnosticDisplay toggles the host's native virtual-text
	// and underline decorations. Idempotent.
	ConfigureDiagnosticDisplay(virtualText, underline bool) error
	// WrapPublishDiagnostics chains a suppression step in front of the
	// host's diagnostic-publish handler so later publishes cannot
	// re-enable the decorations. Installs at most once.
	WrapPublishDiagnostics(virtualText, underline bool) error
	// SubscribeEvents wires editor lifecycle events to the handler.
	SubscribeEvents(handler func(event string, buf int)) error

	// OpenFloat creates a scratch buffer with the given lines and
	// per-line highlight groups and opens a non-focusable float over it.
	OpenFloat(lines []string, hlGroups []string, geo Geometry, border any) (Float, error)
	// SetFloatLines replaces lines [start, end) of the float's buffer and
	// reapplies the per-line highlights for the replacement.
	SetFloatLines(f Float, start, end int, lines []string, hlGroups []string) error
	// MoveFloat re-issues the float's geometry and border.
	MoveFloat(f Float, geo Geometry, border any) error
	// CloseFloat releases the window and the scratch buffer, tolerating
	// handles that are already gone.
	CloseFloat(f Float)
	// FloatValid reports whether both handles are still alive.
	FloatValid(f Float) bool
}

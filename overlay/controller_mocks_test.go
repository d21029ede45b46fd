package overlay

import (
	"diagpane/diag"

	"github.com/neovim/go-client/nvim"
)

// --- Mock implementations ---

type setLinesCall struct {
	start  int
	end    int
	lines  []string
	groups []string
}

type configureCall struct {
	virtualText bool
	underline   bool
}

// mockHost implements the Host interface for testing
type mockHost struct {
	diags   []*diag.Diagnostic
	clients []string
	mode    string
	cols    int
	rows    int

	valid  bool
	nextID int

	openCalls  int
	closeCalls int
	moveCalls  int
	setLines   []setLinesCall
	configures []configureCall
	wrapCalls  int
	subscribed bool

	lastLines  []string
	lastGroups []string
	lastGeo    Geometry
	lastBorder any
	lastFloat  Float
}

func newMockHost() *mockHost {
	return &mockHost{
		mode: "n",
		cols: 80,
		rows: 24,
	}
}

// mutations counts the host calls that would be visible on screen.
func (m *mockHost) mutations() int {
	return m.openCalls + m.closeCalls + m.moveCalls + len(m.setLines)
}

func (m *mockHost) Snapshot(buf nvim.Buffer) ([]*diag.Diagnostic, error) {
	return m.diags, nil
}

func (m *mockHost) AttachedClients(buf nvim.Buffer) ([]string, error) {
	return m.clients, nil
}

func (m *mockHost) EditorSize() (int, int, error) {
	return m.cols, m.rows, nil
}

func (m *mockHost) Mode() (string, error) {
	return m.mode, nil
}

func (m *mockHost) ConfigureDiagnosticDisplay(virtualText, underline bool) error {
	m.configures = append(m.configures, configureCall{virtualText: virtualText, underline: underline})
	return nil
}

func (m *mockHost) WrapPublishDiagnostics(virtualText, underline bool) error {
	m.wrapCalls++
	return nil
}

func (m *mockHost) SubscribeEvents(handler func(event string, buf int)) error {
	m.subscribed = true
	return nil
}

func (m *mockHost) OpenFloat(lines []string, hlGroups []string, geo Geometry, border any) (Float, error) {
	m.openCalls++
	m.nextID++
	m.valid = true
	m.lastLines = append([]string{}, lines...)
	m.lastGroups = append([]string{}, hlGroups...)
	m.lastGeo = geo
	m.lastBorder = border
	m.lastFloat = Float{Buf: nvim.Buffer(m.nextID), Win: nvim.Window(m.nextID)}
	return m.lastFloat, nil
}

func (m *mockHost) SetFloatLines(f Float, start, end int, lines []string, hlGroups []string) error {
	m.setLines = append(m.setLines, setLinesCall{
		start:  start,
		end:    end,
		lines:  append([]string{}, lines...),
		groups: append([]string{}, hlGroups...),
	})

	// Keep lastLines in sync so assertions can look at the final render
	head := append([]string{}, m.lastLines[:start]...)
	tail := append([]string{}, m.lastLines[end:]...)
	m.lastLines = append(append(head, lines...), tail...)
	return nil
}

func (m *mockHost) MoveFloat(f Float, geo Geometry, border any) error {
	m.moveCalls++
	m.lastGeo = geo
	m.lastBorder = border
	return nil
}

func (m *mockHost) CloseFloat(f Float) {
	m.closeCalls++
	m.valid = false
}

func (m *mockHost) FloatValid(f Float) bool {
	return m.valid
}

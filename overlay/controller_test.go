package overlay

import (
	"fmt"
	"testing"

	"diagpane/config"
	"diagpane/diag"

	"github.com/stretchr/testify/assert"
)

func newTestController(t *testing.T, host *mockHost, overrides string) *Controller {
	t.Helper()
	cfg, err := config.Normalize([]byte(overrides))
	assert.NoError(t, err, "config should normalize")
	return NewController(host, cfg)
}

func TestRefresh_CreatesOverlay(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityWarn, Message: "unused var", Lnum: 3, Col: 0},
	}
	c := newTestController(t, host, "")

	err := c.Refresh(0)

	assert.NoError(t, err, "refresh should succeed")
	assert.Equal(t, 1, host.openCalls, "should open one float")
	assert.Equal(t, []string{"4:1 W unused var"}, host.lastLines, "should render the formatted item")
	assert.Equal(t, []string{"DiagnosticWarn"}, host.lastGroups, "should carry the severity highlight group")
	assert.Equal(t, "NE", host.lastGeo.Anchor, "default position is the top right corner")
	assert.Equal(t, 1, host.lastGeo.Height, "one item means height one")
	assert.NotNil(t, c.float, "controller should track the float")
}

func TestRefresh_UnchangedSnapshotIsIdempotent(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "boom", Lnum: 0, Col: 0},
		{Severity: diag.SeverityWarn, Message: "meh", Lnum: 5, Col: 2},
	}
	c := newTestController(t, host, "")

	assert.NoError(t, c.Refresh(0))
	before := host.mutations()

	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, before, host.mutations(), "second refresh with the same snapshot should touch nothing")
}

func TestRefresh_HeightChangeRecreatesFloat(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "one", Lnum: 0, Col: 0},
	}
	c := newTestController(t, host, "")
	assert.NoError(t, c.Refresh(0))
	first := *c.float

	host.diags = append(host.diags, &diag.Diagnostic{Severity: diag.SeverityError, Message: "two", Lnum: 1, Col: 0})
	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, 1, host.closeCalls, "old float should be torn down")
	assert.Equal(t, 2, host.openCalls, "a fresh float should be created")
	assert.NotEqual(t, first, *c.float, "handles should change across a recreate")
	assert.Equal(t, []string{"1:1 E one", "2:1 E two"}, host.lastLines, "new float should carry both items")
}

func TestRefresh_SameHeightUpdatesInPlace(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityWarn, Message: "old text", Lnum: 1, Col: 0},
	}
	c := newTestController(t, host, "")
	assert.NoError(t, c.Refresh(0))
	first := *c.float

	host.diags[0].Message = "new text"
	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, 1, host.openCalls, "float should not be recreated")
	assert.Equal(t, 0, host.closeCalls, "float should not be closed")
	assert.Equal(t, first, *c.float, "handles should be preserved")
	assert.Len(t, host.setLines, 1, "only the changed span should be written")
	assert.Equal(t, []string{"2:1 W new text"}, host.lastLines, "content should reflect the new message")
}

func TestRefresh_SameHeightShiftedLines(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "x", Lnum: 1, Col: 0},
		{Severity: diag.SeverityError, Message: "y", Lnum: 2, Col: 0},
		{Severity: diag.SeverityError, Message: "z", Lnum: 8, Col: 0},
	}
	c := newTestController(t, host, "")
	assert.NoError(t, c.Refresh(0))
	assert.Equal(t, []string{"2:1 E x", "3:1 E y", "9:1 E z"}, host.lastLines)

	// A new diagnostic appears above the kept ones while the last one
	// resolves: same height, but every kept line shifts down.
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "a", Lnum: 0, Col: 0},
		{Severity: diag.SeverityError, Message: "x", Lnum: 1, Col: 0},
		{Severity: diag.SeverityError, Message: "y", Lnum: 2, Col: 0},
	}
	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, []string{"1:1 E a", "2:1 E x", "3:1 E y"}, host.lastLines, "resolved line gone, new line present")
	assert.Equal(t, 1, host.openCalls, "same height stays in place")
	assert.Equal(t, 0, host.closeCalls, "same height stays in place")

	// The recorded baseline must match the buffer, or the next diff
	// patches the wrong lines.
	before := host.mutations()
	assert.NoError(t, c.Refresh(0))
	assert.Equal(t, before, host.mutations(), "next unchanged refresh should be a no-op")
}

func TestRefresh_GeometryChangeMovesFloat(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityInfo, Message: "hi", Lnum: 0, Col: 0},
	}
	c := newTestController(t, host, "")
	assert.NoError(t, c.Refresh(0))

	// Same content, bigger editor: the float has to follow the corner.
	host.cols = 120
	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, 1, host.openCalls, "resize should not recreate the float")
	assert.Equal(t, 1, host.moveCalls, "resize should move the float")
	assert.Equal(t, 118, host.lastGeo.Col, "float should hug the new right edge")
}

func TestRefresh_EmptySnapshotTearsDown(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "gone soon", Lnum: 0, Col: 0},
	}
	c := newTestController(t, host, "")
	assert.NoError(t, c.Refresh(0))

	host.diags = nil
	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, 1, host.closeCalls, "float should be closed")
	assert.Nil(t, c.float, "controller should forget the float")

	// A second empty refresh has nothing left to do.
	before := host.mutations()
	assert.NoError(t, c.Refresh(0))
	assert.Equal(t, before, host.mutations(), "teardown should be idempotent")
}

func TestRefresh_SeverityFloorFiltersEverything(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityWarn, Message: "w", Lnum: 0, Col: 0},
		{Severity: diag.SeverityInfo, Message: "i", Lnum: 1, Col: 0},
		{Severity: diag.SeverityHint, Message: "h", Lnum: 2, Col: 0},
	}
	c := newTestController(t, host, `{"min_severity": "error"}`)

	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, 0, host.openCalls, "nothing at or above the floor means no overlay")
	assert.Nil(t, c.float, "controller should hold no float")
}

func TestRefresh_SeverityFloorKeepsMatches(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "e", Lnum: 0, Col: 0},
		{Severity: diag.SeverityWarn, Message: "w", Lnum: 1, Col: 0},
		{Severity: diag.SeverityHint, Message: "h", Lnum: 2, Col: 0},
	}
	c := newTestController(t, host, `{"min_severity": "warn"}`)

	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, []string{"1:1 E e", "2:1 W w"}, host.lastLines, "hint should be filtered out")
}

func TestRefresh_MaxItemsTruncatesAfterSort(t *testing.T) {
	host := newMockHost()
	// Reverse line order so truncation only keeps the right items if the
	// sort ran first.
	for i := 149; i >= 0; i-- {
		host.diags = append(host.diags, &diag.Diagnostic{
			Severity: diag.SeverityError,
			Message:  "m",
			Lnum:     i,
			Col:      0,
		})
	}
	c := newTestController(t, host, `{"max_items": 100}`)

	assert.NoError(t, c.Refresh(0))

	assert.Len(t, host.lastLines, 100, "overlay should be capped at max_items")
	assert.Equal(t, "1:1 E m", host.lastLines[0], "first line should be the lowest position")
	assert.Equal(t, "100:1 E m", host.lastLines[99], "cap should keep the first hundred sorted items")
	assert.Equal(t, 100, host.lastGeo.Height, "geometry height should match the truncated count")
}

func TestRefresh_RelevantClientOnly(t *testing.T) {
	host := newMockHost()
	host.clients = []string{"gopls", "linter"}
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "a", Lnum: 0, Col: 0, Source: "linter"},
		{Severity: diag.SeverityError, Message: "b", Lnum: 1, Col: 0, Source: "linter"},
		{Severity: diag.SeverityError, Message: "c", Lnum: 2, Col: 0, Source: "gopls"},
	}
	c := newTestController(t, host, `{"relevant_client_only": true}`)

	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, []string{"1:1 E a", "2:1 E b"}, host.lastLines, "only the dominant source should remain")
}

func TestRefresh_InsertModeTearsDown(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "e", Lnum: 0, Col: 0},
	}
	c := newTestController(t, host, `{"hide_on_insert": true}`)
	assert.NoError(t, c.Refresh(0))
	assert.Equal(t, 1, host.openCalls)

	host.mode = "i"
	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, 1, host.closeCalls, "overlay should hide while inserting")
	assert.Nil(t, c.float)
}

func TestHandleEvent_InsertEnterAndLeave(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityWarn, Message: "w", Lnum: 0, Col: 0},
	}
	c := newTestController(t, host, `{"hide_on_insert": true}`)
	assert.NoError(t, c.Refresh(0))

	c.HandleEvent(EventInsertEnter, 0)
	assert.Equal(t, 1, host.closeCalls, "insert_enter should tear the overlay down")
	assert.Nil(t, c.float)

	c.HandleEvent(EventInsertLeave, 0)
	assert.Equal(t, 2, host.openCalls, "insert_leave should bring the overlay back")
	assert.NotNil(t, c.float)
}

func TestHandleEvent_InsertEnterIgnoredWhenNotHiding(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityWarn, Message: "w", Lnum: 0, Col: 0},
	}
	c := newTestController(t, host, "")
	assert.NoError(t, c.Refresh(0))

	c.HandleEvent(EventInsertEnter, 0)

	assert.Equal(t, 0, host.closeCalls, "overlay should stay up while inserting")
	assert.NotNil(t, c.float)
}

func TestRefresh_FloatClosedExternally(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "e", Lnum: 0, Col: 0},
	}
	c := newTestController(t, host, "")
	assert.NoError(t, c.Refresh(0))

	// Something else closed the window; the stale handles must not be
	// closed again, just replaced.
	host.valid = false
	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, 0, host.closeCalls, "stale handles should not be re-closed")
	assert.Equal(t, 2, host.openCalls, "a fresh float should be opened")
}

func TestSetup_ConfiguresAndSubscribes(t *testing.T) {
	host := newMockHost()
	host.diags = []*diag.Diagnostic{
		{Severity: diag.SeverityError, Message: "e", Lnum: 0, Col: 0},
	}
	c := newTestController(t, host, "")

	assert.NoError(t, c.Setup())

	assert.Len(t, host.configures, 1, "inline rendering should be configured once")
	assert.Equal(t, configureCall{virtualText: false, underline: true}, host.configures[0], "virtual text off, underline on by default")
	assert.Equal(t, 1, host.wrapCalls, "publish handler should be wrapped")
	assert.True(t, host.subscribed, "events should be subscribed")

	// The initial render is queued, not executed inline.
	assert.Equal(t, 0, host.openCalls)
	ev := <-c.eventChan
	assert.Equal(t, EventBufEnter, ev.name, "setup should queue an initial render")
	c.HandleEvent(ev.name, ev.buf)
	assert.Equal(t, 1, host.openCalls, "draining the queue should render the overlay")
}

func TestSetup_HideUnderline(t *testing.T) {
	host := newMockHost()
	c := newTestController(t, host, `{"hide_underline_diagnostics": true}`)

	assert.NoError(t, c.Setup())

	assert.Equal(t, configureCall{virtualText: false, underline: false}, host.configures[0], "underline should be suppressed too")
}

func TestDestroy_SafeWithoutFloat(t *testing.T) {
	host := newMockHost()
	c := newTestController(t, host, "")

	c.Destroy()
	c.Destroy()

	assert.Equal(t, 0, host.closeCalls, "nothing to close")
}

func TestEnqueue_DropsUnderBackpressure(t *testing.T) {
	host := newMockHost()
	c := newTestController(t, host, "")

	// The loop is not running, so the buffer fills up and extra events
	// get dropped instead of blocking the RPC goroutine.
	for i := 0; i < 250; i++ {
		c.Enqueue(EventDiagnosticsChanged, i)
	}
	assert.Equal(t, cap(c.eventChan), len(c.eventChan), "queue should be full, not blocked")
}

func TestRefresh_BottomLeftGeometry(t *testing.T) {
	host := newMockHost()
	for i := 0; i < 3; i++ {
		host.diags = append(host.diags, &diag.Diagnostic{
			Severity: diag.SeverityError,
			Message:  fmt.Sprintf("e%d", i),
			Lnum:     i,
			Col:      0,
		})
	}
	c := newTestController(t, host, `{"position": "bottom_left"}`)

	assert.NoError(t, c.Refresh(0))

	assert.Equal(t, "SW", host.lastGeo.Anchor)
	assert.Equal(t, 19, host.lastGeo.Row, "three rows above the bottom margin of a 24-row editor")
	assert.Equal(t, 2, host.lastGeo.Col)
}

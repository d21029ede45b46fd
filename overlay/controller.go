package overlay

import (
	"context"
	"strings"
	"sync"

	"diagpane/config"
	"diagpane/diag"
	"diagpane/logger"

	"github.com/neovim/go-client/nvim"
)

// hostEvent is one editor lifecycle notification waiting to be handled.
type hostEvent struct {
	name string
	buf  int
}

// Controller owns at most one overlay float. Events are funneled through
// a single consumer goroutine, so every refresh runs to completion
// before the next event is looked at; the overlay state below is only
// ever touched from that goroutine (plus Setup, which runs before the
// first event is enqueued).
type Controller struct {
	host        Host
	cfg         *config.Config
	minSeverity diag.Severity

	eventChan  chan hostEvent
	mainCtx    context.Context
	mainCancel context.CancelFunc
	stopOnce   sync.Once

	// Current overlay, nil when torn down. height, lines and geo mirror
	// what is on screen so an unchanged refresh costs no host calls.
	float  *Float
	height int
	lines  []string
	geo    Geometry
}

func NewController(host Host, cfg *config.Config) *Controller {
	return &Controller{
		host:        host,
		cfg:         cfg,
		minSeverity: diag.ParseSeverity(cfg.MinSeverity),
		eventChan:   make(chan hostEvent, 100),
	}
}

// Start launches the event loop.
func (c *Controller) Start(ctx context.Context) {
	c.mainCtx, c.mainCancel = context.WithCancel(ctx)
	go c.eventLoop(c.mainCtx)
}

// Stop shuts the event loop down and tears the overlay down.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.mainCancel != nil {
			c.mainCancel()
		}
	})
}

// Setup performs the one-time initialization: suppress the host's inline
// diagnostic rendering (the overlay is the sole display surface), chain
// the publish-handler wrapper, subscribe to events, and render once for
// the active buffer.
func (c *Controller) Setup() error {
	underline := !c.cfg.HideUnderlineDiagnostics
	if err := c.host.ConfigureDiagnosticDisplay(false, underline); err != nil {
		return err
	}
	if err := c.host.WrapPublishDiagnostics(false, underline); err != nil {
		return err
	}
	if err := c.host.SubscribeEvents(c.Enqueue); err != nil {
		return err
	}

	// Initial render goes through the queue so it is ordered with
	// whatever events the subscription already produced.
	c.Enqueue(EventBufEnter, 0)
	return nil
}

// Enqueue hands an event to the loop. Host notification handlers run on
// RPC goroutines; dropping under backpressure is preferable to blocking
// the connection, since the next event supersedes this one anyway.
func (c *Controller) Enqueue(event string, buf int) {
	select {
	case c.eventChan <- hostEvent{name: event, buf: buf}:
	default:
		logger.Warn("event queue full, dropping %s", event)
	}
}

func (c *Controller) eventLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event loop panic recovered: %v", r)
			c.eventLoop(ctx) // Restart the event loop
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.eventChan:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("event handler panic recovered for %s: %v", ev.name, r)
					}
				}()
				c.HandleEvent(ev.name, ev.buf)
			}()
		}
	}
}

// HandleEvent routes a single host lifecycle event. Entering insert mode
// tears the overlay down when configured; every other event re-renders
// for the active buffer (the event's buffer may be a background one, but
// the overlay always reflects what the user is looking at).
func (c *Controller) HandleEvent(event string, buf int) {
	defer logger.Trace("overlay.HandleEvent")()
	logger.Debug("handle event: %s (buf=%d)", event, buf)

	switch event {
	case EventInsertEnter:
		if c.cfg.HideOnInsert {
			c.Destroy()
		}
	case EventInsertLeave, EventDiagnosticsChanged, EventBufEnter, EventWinEnter, EventWinScrolled:
		if err := c.Refresh(nvim.Buffer(0)); err != nil {
			logger.Error("refresh after %s: %v", event, err)
		}
	default:
		logger.Debug("ignoring unknown event %q", event)
	}
}

// Refresh recomputes and re-renders the overlay for the given buffer
// (0 = the active buffer).
func (c *Controller) Refresh(buf nvim.Buffer) error {
	diags, err := c.host.Snapshot(buf)
	if err != nil {
		return err
	}

	if c.cfg.HideOnInsert {
		// Events can arrive after the mode already changed; trust the
		// live mode over the event that got us here.
		if mode, err := c.host.Mode(); err == nil && strings.HasPrefix(mode, "i") {
			c.Destroy()
			return nil
		}
	}

	if c.cfg.HideUnderlineDiagnostics {
		if err := c.host.ConfigureDiagnosticDisplay(false, false); err != nil {
			logger.Debug("diagnostic display config: %v", err)
		}
	}

	if c.cfg.RelevantClientOnly && len(diags) > 0 {
		clients, err := c.host.AttachedClients(buf)
		if err != nil {
			return err
		}
		diags = diag.MostRelevantSource(diags, clients)
	}

	if len(diags) == 0 {
		c.Destroy()
		return nil
	}

	diags = diag.FilterSeverity(diags, c.minSeverity)
	items := diag.BuildItems(diags, c.cfg.Styles)
	diag.SortItems(items)
	if c.cfg.MaxItems > 0 && len(items) > c.cfg.MaxItems {
		items = items[:c.cfg.MaxItems]
	}
	if len(items) == 0 {
		c.Destroy()
		return nil
	}

	return c.reconcile(items)
}

// reconcile diffs the wanted overlay against the one on screen. A height
// change always destroys and recreates; everything else updates in
// place, touching only the line spans and geometry that changed.
func (c *Controller) reconcile(items []*diag.Item) error {
	lines := make([]string, len(items))
	groups := make([]string, len(items))
	for i, it := range items {
		lines[i] = it.Text
		groups[i] = it.Severity.HlGroup()
	}

	cols, rows, err := c.host.EditorSize()
	if err != nil {
		return err
	}
	height := len(items)
	geo := computeGeometry(c.cfg.Position, c.cfg.TopInset, cols, rows, contentWidth(lines, c.cfg.MaxWidth), height)

	if c.float != nil && !c.host.FloatValid(*c.float) {
		// Closed behind our back; drop the stale handles.
		c.clear()
	}
	if c.float != nil && c.height != height {
		c.Destroy()
	}

	if c.float == nil {
		f, err := c.host.OpenFloat(lines, groups, geo, c.cfg.Border)
		if err != nil {
			return err
		}
		c.float = &f
		c.height = height
		c.lines = lines
		c.geo = geo
		return nil
	}

	// Spans carry old-render coordinates; earlier spans shift the buffer,
	// so each one is applied at its position in the partially updated
	// buffer. newStart is exactly start plus the accumulated shift.
	for _, s := range lineSpans(c.lines, lines) {
		shift := s.newStart - s.start
		hl := groups[s.newStart : s.newStart+len(s.lines)]
		if err := c.host.SetFloatLines(*c.float, s.newStart, s.end+shift, s.lines, hl); err != nil {
			return err
		}
	}
	c.lines = lines

	if geo != c.geo {
		if err := c.host.MoveFloat(*c.float, geo, c.cfg.Border); err != nil {
			return err
		}
		c.geo = geo
	}
	return nil
}

// Destroy tears the overlay down entirely, releasing the window and its
// scratch buffer together. Safe to call repeatedly or with nothing on
// screen.
func (c *Controller) Destroy() {
	if c.float != nil {
		c.host.CloseFloat(*c.float)
	}
	c.clear()
}

func (c *Controller) clear() {
	c.float = nil
	c.height = 0
	c.lines = nil
	c.geo = Geometry{}
}

// Package nvimhost implements overlay.Host over a live Neovim RPC
// connection. All reads go through batched round-trips; anything the
// typed API does not cover cleanly goes through ExecLua.
package nvimhost

import (
	"fmt"

	"diagpane/diag"
	"diagpane/logger"
	"diagpane/overlay"

	"github.com/neovim/go-client/nvim"
)

// winBlend is the translucency applied to the overlay for visual
// layering over the document.
const winBlend = 10

type NvimHost struct {
	client *nvim.Nvim
	ns     int
}

func New(n *nvim.Nvim) (*NvimHost, error) {
	ns, err := n.CreateNamespace("diagpane")
	if err != nil {
		return nil, err
	}
	return &NvimHost{client: n, ns: ns}, nil
}

// Snapshot reads the live diagnostic list for the buffer via
// vim.diagnostic.get. Best-effort decoding: fields missing from the
// payload come back as -1 so range fallbacks apply downstream.
func (h *NvimHost) Snapshot(buf nvim.Buffer) ([]*diag.Diagnostic, error) {
	defer logger.Trace("nvimhost.Snapshot")()

	batch := h.client.NewBatch()
	var raw []map[string]any
	batch.ExecLua(fmt.Sprintf(`return vim.diagnostic.get(%d)`, int(buf)), &raw, nil)
	if err := batch.Execute(); err != nil {
		return nil, err
	}

	diags := make([]*diag.Diagnostic, 0, len(raw))
	for _, m := range raw {
		diags = append(diags, decodeDiagnostic(m))
	}
	return diags, nil
}

func decodeDiagnostic(m map[string]any) *diag.Diagnostic {
	d := &diag.Diagnostic{
		Message: getString(m, "message"),
		Source:  getString(m, "source"),
		Lnum:    getNumber(m, "lnum"),
		Col:     getNumber(m, "col"),
		Range:   decodeRange(m),
	}
	if sev := getNumber(m, "severity"); sev >= int(diag.SeverityError) && sev <= int(diag.SeverityHint) {
		d.Severity = diag.Severity(sev)
	} else {
		d.Severity = diag.SeverityError
	}
	return d
}

// decodeRange builds the position range for a diagnostic. The LSP range
// carried in user_data is authoritative when present, so a payload
// missing the flat lnum/col fields still positions correctly; otherwise
// the flat fields and their end_ variants are used.
func decodeRange(m map[string]any) *diag.Range {
	if r := decodeLspRange(m); r != nil {
		return r
	}

	lnum, col := getNumber(m, "lnum"), getNumber(m, "col")
	if lnum == -1 && col == -1 {
		return nil
	}
	r := &diag.Range{StartLine: lnum, StartCol: col, EndLine: lnum, EndCol: col}
	if lnum == -1 {
		r.StartLine, r.EndLine = 0, 0
	}
	if col == -1 {
		r.StartCol, r.EndCol = 0, 0
	}
	if end := getNumber(m, "end_lnum"); end != -1 {
		r.EndLine = end
	}
	if end := getNumber(m, "end_col"); end != -1 {
		r.EndCol = end
	}
	return r
}

func decodeLspRange(m map[string]any) *diag.Range {
	ud, ok := m["user_data"].(map[string]any)
	if !ok {
		return nil
	}
	lsp, ok := ud["lsp"].(map[string]any)
	if !ok {
		return nil
	}
	rng, ok := lsp["range"].(map[string]any)
	if !ok {
		return nil
	}
	start, ok := rng["start"].(map[string]any)
	if !ok {
		return nil
	}
	line, char := getNumber(start, "line"), getNumber(start, "character")
	if line == -1 || char == -1 {
		return nil
	}
	r := &diag.Range{StartLine: line, StartCol: char, EndLine: line, EndCol: char}
	if end, ok := rng["end"].(map[string]any); ok {
		if n := getNumber(end, "line"); n != -1 {
			r.EndLine = n
		}
		if n := getNumber(end, "character"); n != -1 {
			r.EndCol = n
		}
	}
	return r
}

// AttachedClients returns the names of LSP clients attached to the
// buffer, in declaration order. Falls back to get_active_clients on
// older Neovim.
func (h *NvimHost) AttachedClients(buf nvim.Buffer) ([]string, error) {
	batch := h.client.NewBatch()
	var names []string
	batch.ExecLua(fmt.Sprintf(`
		local get = vim.lsp.get_clients or vim.lsp.get_active_clients
		local names = {}
		for _, c in ipairs(get({bufnr = %d})) do
			names[#names + 1] = c.name
		end
		return names
	`, int(buf)), &names, nil)
	if err := batch.Execute(); err != nil {
		return nil, err
	}
	return names, nil
}

func (h *NvimHost) EditorSize() (cols, rows int, err error) {
	batch := h.client.NewBatch()
	var size [2]int
	batch.ExecLua(`return {vim.o.columns, vim.o.lines}`, &size, nil)
	if err := batch.Execute(); err != nil {
		return 0, 0, err
	}
	return size[0], size[1], nil
}

func (h *NvimHost) Mode() (string, error) {
	m, err := h.client.Mode()
	if err != nil {
		return "", err
	}
	return m.Mode, nil
}

// ConfigureDiagnosticDisplay toggles Neovim's native virtual-text and
// underline decorations. Idempotent host call.
func (h *NvimHost) ConfigureDiagnosticDisplay(virtualText, underline bool) error {
	batch := h.client.NewBatch()
	batch.ExecLua(`
		local vt, ul = ...
		vim.diagnostic.config({ virtual_text = vt, underline = ul })
	`, nil, virtualText, underline)
	return batch.Execute()
}

// WrapPublishDiagnostics chains a suppression step in front of the
// publish-diagnostics handler, explicitly forwarding to the previous
// handler. A guard variable keeps the wrapper from stacking.
func (h *NvimHost) WrapPublishDiagnostics(virtualText, underline bool) error {
	batch := h.client.NewBatch()
	batch.ExecLua(`
		local vt, ul = ...
		if vim.g.diagpane_publish_wrapped then
			return
		end
		vim.g.diagpane_publish_wrapped = true
		local prev = vim.lsp.handlers["textDocument/publishDiagnostics"]
		vim.lsp.handlers["textDocument/publishDiagnostics"] = function(err, result, ctx, cfg)
			cfg = vim.tbl_extend("force", cfg or {}, { virtual_text = vt, underline = ul })
			return prev(err, result, ctx, cfg)
		end
	`, nil, virtualText, underline)
	return batch.Execute()
}

// SubscribeEvents registers the RPC notification handler and creates the
// autocmds that forward editor lifecycle events to it.
func (h *NvimHost) SubscribeEvents(handler func(event string, buf int)) error {
	err := h.client.RegisterHandler("diagpane_event", func(_ *nvim.Nvim, event string, buf int) {
		handler(event, buf)
	})
	if err != nil {
		return err
	}

	batch := h.client.NewBatch()
	batch.ExecLua(`
		local chan = ...
		local grp = vim.api.nvim_create_augroup("diagpane", { clear = true })
		local function forward(name)
			return function(args)
				vim.fn.rpcnotify(chan, "diagpane_event", name, args.buf or 0)
			end
		end
		vim.api.nvim_create_autocmd("DiagnosticChanged", { group = grp, callback = forward("diagnostics_changed") })
		vim.api.nvim_create_autocmd("BufEnter", { group = grp, callback = forward("buf_enter") })
		vim.api.nvim_create_autocmd("WinEnter", { group = grp, callback = forward("win_enter") })
		vim.api.nvim_create_autocmd("WinScrolled", { group = grp, callback = forward("win_scrolled") })
		vim.api.nvim_create_autocmd("InsertEnter", { group = grp, callback = forward("insert_enter") })
		vim.api.nvim_create_autocmd("InsertLeave", { group = grp, callback = forward("insert_leave") })
	`, nil, h.client.ChannelID())
	return batch.Execute()
}

const openFloatLua = `
	local buf, cfg, blend = ...
	local win = vim.api.nvim_open_win(buf, false, cfg)
	vim.api.nvim_win_set_option(win, "wrap", false)
	vim.api.nvim_win_set_option(win, "winblend", blend)
	return win
`

// OpenFloat allocates a scratch buffer, fills it, applies per-line
// severity highlights, and opens a minimal non-focusable float over it.
func (h *NvimHost) OpenFloat(lines []string, hlGroups []string, geo overlay.Geometry, border any) (overlay.Float, error) {
	defer logger.Trace("nvimhost.OpenFloat")()

	var f overlay.Float
	buf, err := h.client.CreateBuffer(false, true)
	if err != nil {
		return f, err
	}

	batch := h.client.NewBatch()
	batch.SetBufferLines(buf, 0, -1, false, toBytes(lines))
	h.addHighlights(batch, buf, 0, hlGroups)
	var win nvim.Window
	batch.ExecLua(openFloatLua, &win, int(buf), floatConfig(geo, border, true), winBlend)
	if err := batch.Execute(); err != nil {
		// Half-created surface: the scratch buffer must not leak.
		h.tryRelease("scratch buffer", func() error { return h.deleteBuffer(buf) })
		return f, err
	}

	f.Buf = buf
	f.Win = win
	return f, nil
}

// SetFloatLines replaces lines [start, end) and reapplies the highlights
// for the replacement region.
func (h *NvimHost) SetFloatLines(f overlay.Float, start, end int, lines []string, hlGroups []string) error {
	batch := h.client.NewBatch()
	batch.SetBufferLines(f.Buf, start, end, false, toBytes(lines))
	batch.ClearBufferNamespace(f.Buf, h.ns, start, start+len(lines))
	h.addHighlights(batch, f.Buf, start, hlGroups)
	return batch.Execute()
}

// MoveFloat re-issues the float's geometry and border configuration.
func (h *NvimHost) MoveFloat(f overlay.Float, geo overlay.Geometry, border any) error {
	batch := h.client.NewBatch()
	batch.ExecLua(`
		local win, cfg = ...
		vim.api.nvim_win_set_config(win, cfg)
	`, nil, int(f.Win), floatConfig(geo, border, false))
	return batch.Execute()
}

// CloseFloat releases the window and scratch buffer. Handles that are
// already gone are a silent success.
func (h *NvimHost) CloseFloat(f overlay.Float) {
	h.tryRelease("overlay window", func() error {
		valid, err := h.client.IsWindowValid(f.Win)
		if err != nil || !valid {
			return err
		}
		return h.client.CloseWindow(f.Win, true)
	})
	h.tryRelease("overlay buffer", func() error {
		valid, err := h.client.IsBufferValid(f.Buf)
		if err != nil || !valid {
			return err
		}
		return h.deleteBuffer(f.Buf)
	})
}

func (h *NvimHost) FloatValid(f overlay.Float) bool {
	batch := h.client.NewBatch()
	var winOK, bufOK bool
	batch.IsWindowValid(f.Win, &winOK)
	batch.IsBufferValid(f.Buf, &bufOK)
	if err := batch.Execute(); err != nil {
		return false
	}
	return winOK && bufOK
}

// tryRelease attempts to release an editor resource. Failures are logged
// at debug level and swallowed: teardown of a display surface must never
// surface an error.
func (h *NvimHost) tryRelease(name string, release func() error) {
	if err := release(); err != nil {
		logger.Debug("releasing %s: %v", name, err)
	}
}

func (h *NvimHost) deleteBuffer(buf nvim.Buffer) error {
	return h.client.ExecLua(`vim.api.nvim_buf_delete(..., { force = true })`, nil, int(buf))
}

func (h *NvimHost) addHighlights(batch *nvim.Batch, buf nvim.Buffer, start int, hlGroups []string) {
	var id int
	for i, group := range hlGroups {
		batch.AddBufferHighlight(buf, h.ns, group, start+i, 0, -1, &id)
	}
}

// floatConfig builds the nvim_open_win / nvim_win_set_config table.
func floatConfig(geo overlay.Geometry, border any, opening bool) map[string]any {
	cfg := map[string]any{
		"relative":  "editor",
		"anchor":    geo.Anchor,
		"row":       geo.Row,
		"col":       geo.Col,
		"width":     geo.Width,
		"height":    geo.Height,
		"style":     "minimal",
		"focusable": false,
	}
	if opening {
		cfg["noautocmd"] = true
	}
	if b := normalizeBorder(border); b != nil {
		cfg["border"] = b
	}
	return cfg
}

// normalizeBorder maps the config border value to what nvim_open_win
// expects: off (nil result), a named style, or an explicit spec
// forwarded as-is.
func normalizeBorder(border any) any {
	switch v := border.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return "single"
		}
		return nil
	case string:
		if v == "" || v == "none" {
			return nil
		}
		return v
	default:
		return v
	}
}

func toBytes(lines []string) [][]byte {
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = []byte(l)
	}
	return out
}

// getString safely reads a string field from a decoded Lua table.
func getString(m map[string]any, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}

// getNumber safely reads a numeric field, handling the integer widths
// the msgpack decoder may produce. Returns -1 when absent.
func getNumber(m map[string]any, key string) int {
	switch val := m[key].(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case uint64:
		return int(val)
	case float64:
		return int(val)
	}
	return -1
}

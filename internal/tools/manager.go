// Package tools manages connections to MCP tool servers. Each configured
// server gets at most one live stdio subprocess session, created lazily and
// shared across callers.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ostrauko/loreline/internal/storage"
)

// dialTimeout bounds subprocess launch plus session handshake. Dials run on
// a context detached from the caller, so they need their own deadline.
const dialTimeout = 30 * time.Second

// ToolInfo describes one tool exposed by a server.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema []byte // JSON schema for the tool's arguments
}

// ProbeResult reports a server's liveness. Probe never fails; errors are
// carried in the result.
type ProbeResult struct {
	OK        bool
	Error     string
	ToolCount int
}

// ConnectError reports that a server's subprocess could not be launched or
// its session handshake failed. The turn orchestrator treats this as an
// infrastructure failure that aborts the turn.
type ConnectError struct {
	Server string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("tool server %s: connecting: %v", e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CallError reports a failure attributable to one tool invocation on an
// established session. These are surfaced to the model as tool-role
// messages rather than aborting the turn.
type CallError struct {
	Server string
	Tool   string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool server %s: calling %s: %v", e.Server, e.Tool, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// session is one live exchange with a tool server. The stdio transport is
// stateful, so a session that saw a cancelled call must be discarded.
type session interface {
	listTools(ctx context.Context) ([]ToolInfo, error)
	callTool(ctx context.Context, name string, args map[string]any) (string, error)
	ping(ctx context.Context) error
	close() error
}

type dialFunc func(ctx context.Context, srv storage.MCPServer) (session, error)

// Manager owns the server-id → connection mapping.
type Manager struct {
	mu    sync.Mutex
	conns map[string]session
	dial  dialFunc
	group singleflight.Group
}

// NewManager creates a Manager using the stdio MCP transport.
func NewManager() *Manager {
	return newManager(stdioDial)
}

func newManager(dial dialFunc) *Manager {
	return &Manager{
		conns: make(map[string]session),
		dial:  dial,
	}
}

// ListTools returns the tools exposed by the server, connecting on first
// use.
func (m *Manager) ListTools(ctx context.Context, srv storage.MCPServer) ([]ToolInfo, error) {
	sess, err := m.connFor(ctx, srv)
	if err != nil {
		return nil, err
	}
	infos, err := sess.listTools(ctx)
	if err != nil {
		return nil, &CallError{Server: srv.Name, Tool: "tools/list", Err: err}
	}
	return infos, nil
}

// CallTool invokes a tool with the given arguments. If ctx is already
// cancelled the call fails without contacting the subprocess. Cancellation
// while the call is outstanding fails the call immediately and tears the
// connection down: a half-finished exchange on the stateful transport
// cannot be trusted, so the next call re-establishes a fresh session.
// Cancellation while the connection attempt is pending also fails the call
// immediately, but the dial runs on its own context and a session it
// produces stays usable for other callers.
func (m *Manager) CallTool(ctx context.Context, srv storage.MCPServer, tool string, args map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &CallError{Server: srv.Name, Tool: tool, Err: err}
	}

	type dialResult struct {
		sess session
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		sess, err := m.connFor(ctx, srv)
		dialCh <- dialResult{sess, err}
	}()

	var sess session
	select {
	case <-ctx.Done():
		// The dial may be shared with concurrent callers; if it lands,
		// the session stays cached for them.
		return "", &CallError{Server: srv.Name, Tool: tool, Err: ctx.Err()}
	case r := <-dialCh:
		if r.err != nil {
			return "", r.err
		}
		sess = r.sess
	}

	type callResult struct {
		text string
		err  error
	}
	callCh := make(chan callResult, 1)
	go func() {
		text, err := sess.callTool(ctx, tool, args)
		callCh <- callResult{text, err}
	}()

	select {
	case <-ctx.Done():
		m.teardown(srv.ID, sess)
		return "", &CallError{Server: srv.Name, Tool: tool, Err: ctx.Err()}
	case r := <-callCh:
		if r.err != nil {
			if ctx.Err() != nil {
				m.teardown(srv.ID, sess)
			}
			return "", &CallError{Server: srv.Name, Tool: tool, Err: r.err}
		}
		return r.text, nil
	}
}

// Probe performs a lightweight liveness check, optionally forcing a fresh
// connection first. It is a status query: failures are reported in the
// result, never raised.
func (m *Manager) Probe(ctx context.Context, srv storage.MCPServer, reconnect bool) ProbeResult {
	if reconnect {
		m.Reset(srv.ID)
	}
	sess, err := m.connFor(ctx, srv)
	if err != nil {
		return ProbeResult{Error: err.Error()}
	}
	if err := sess.ping(ctx); err != nil {
		m.teardown(srv.ID, sess)
		return ProbeResult{Error: fmt.Sprintf("ping: %v", err)}
	}
	infos, err := sess.listTools(ctx)
	if err != nil {
		return ProbeResult{OK: true, Error: fmt.Sprintf("listing tools: %v", err)}
	}
	return ProbeResult{OK: true, ToolCount: len(infos)}
}

// Reset unconditionally tears down the server's connection. The next call
// re-establishes a fresh one. Used after server configuration changes.
func (m *Manager) Reset(serverID string) {
	m.mu.Lock()
	sess, ok := m.conns[serverID]
	delete(m.conns, serverID)
	m.mu.Unlock()
	if ok {
		if err := sess.close(); err != nil {
			slog.Debug("closing tool connection", "server_id", serverID, "error", err)
		}
	}
}

// Close tears down all live connections.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]session)
	m.mu.Unlock()
	for id, sess := range conns {
		if err := sess.close(); err != nil {
			slog.Debug("closing tool connection", "server_id", id, "error", err)
		}
	}
}

// connFor returns the server's live session, dialing at most once even
// under concurrent first use.
func (m *Manager) connFor(ctx context.Context, srv storage.MCPServer) (session, error) {
	m.mu.Lock()
	if sess, ok := m.conns[srv.ID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(srv.ID, func() (any, error) {
		m.mu.Lock()
		if sess, ok := m.conns[srv.ID]; ok {
			m.mu.Unlock()
			return sess, nil
		}
		m.mu.Unlock()

		// The dial result is shared across callers, so it must not
		// inherit any one caller's cancellation.
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dialTimeout)
		defer cancel()

		sess, err := m.dial(dialCtx, srv)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.conns[srv.ID] = sess
		m.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, &ConnectError{Server: srv.Name, Err: err}
	}
	return v.(session), nil
}

// teardown removes the session from the mapping if it is still the current
// one, then closes it.
func (m *Manager) teardown(serverID string, sess session) {
	m.mu.Lock()
	if cur, ok := m.conns[serverID]; ok && cur == sess {
		delete(m.conns, serverID)
	}
	m.mu.Unlock()
	if err := sess.close(); err != nil {
		slog.Debug("closing tool connection", "server_id", serverID, "error", err)
	}
}

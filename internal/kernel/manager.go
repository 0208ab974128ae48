// Package kernel is the connection manager: it owns one transport to one
// kernel session, drives the connection status state machine, and routes
// every inbound operation to the client-side registries.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marimo-team/kernelclient/internal/config"
	"github.com/marimo-team/kernelclient/internal/model"
	"github.com/marimo-team/kernelclient/internal/notify"
	"github.com/marimo-team/kernelclient/internal/ops"
	"github.com/marimo-team/kernelclient/internal/queryparams"
	"github.com/marimo-team/kernelclient/internal/registry"
	"github.com/marimo-team/kernelclient/internal/runtime"
	"github.com/marimo-team/kernelclient/internal/status"
	"github.com/marimo-team/kernelclient/internal/transport"
)

// ErrNotInteractive is returned for outbound requests while the connection
// cannot accept them.
var ErrNotInteractive = errors.New("kernel: connection cannot accept requests")

// RuntimeResolver is the slice of the runtime manager the connection
// manager needs.
type RuntimeResolver interface {
	SessionURL(sessionID string, takeover bool) string
	WaitForHealthy(ctx context.Context) error
	IsRemote() bool
}

// CellOpRecorder persists cell run updates.
type CellOpRecorder interface {
	RecordCellOp(ctx context.Context, op *ops.CellOp, now time.Time) error
}

// Deps wires the connection manager. Zero-value fields get working defaults;
// Transport is built from Config when nil.
type Deps struct {
	Config  config.Config
	Runtime RuntimeResolver

	// SessionID is the id sent on the wire. Minted when empty; callers that
	// derive other artifacts from the session identity (history
	// fingerprints) should pass theirs so the ids agree.
	SessionID string

	Transport transport.Transport

	Status      *status.Tracker
	Cells       *registry.Cells
	Variables   *registry.Variables
	Datasets    *registry.Datasets
	DataSources *registry.DataSources

	Completions   *registry.Requests[*ops.CompletionResult]
	FunctionCalls *registry.Requests[*ops.FunctionCallResult]
	SQLPreviews   *registry.Requests[*ops.SQLTablePreviewResult]
	SecretKeys    *registry.Requests[*ops.SecretKeysResult]

	Notifier    notify.Notifier
	QueryParams queryparams.Mutator
	Recorder    CellOpRecorder

	// Reload is invoked when the kernel asks the client to reload itself.
	Reload func()
	// OnUIElementMessage receives kernel-originated UI element messages.
	OnUIElementMessage func(objectID string, message []byte, buffers []string)

	Logger *zap.Logger
}

// Manager is the kernel connection manager. One Manager owns one session.
type Manager struct {
	cfg       config.Config
	rt        RuntimeResolver
	sessionID string

	st          *status.Tracker
	cells       *registry.Cells
	vars        *registry.Variables
	datasets    *registry.Datasets
	dataSources *registry.DataSources

	completions   *registry.Requests[*ops.CompletionResult]
	functionCalls *registry.Requests[*ops.FunctionCallResult]
	sqlPreviews   *registry.Requests[*ops.SQLTablePreviewResult]
	secretKeys    *registry.Requests[*ops.SecretKeysResult]

	notifier    notify.Notifier
	queryParams queryparams.Mutator
	recorder    CellOpRecorder
	reload      func()
	onUIMessage func(objectID string, message []byte, buffers []string)
	logger      *zap.Logger

	ctx context.Context

	mu sync.Mutex
	tr transport.Transport
	// shouldReconnect is armed on every open and consumed by at most one
	// reconnect attempt, so a flapping server cannot drive a retry storm.
	shouldReconnect bool
	kernelReadySeen bool

	readyMu      sync.RWMutex
	appConfig    model.AppConfig
	capabilities model.KernelCapabilities
	resumed      bool
}

func NewManager(deps Deps) *Manager {
	m := &Manager{
		cfg:           deps.Config,
		rt:            deps.Runtime,
		sessionID:     deps.SessionID,
		st:            deps.Status,
		cells:         deps.Cells,
		vars:          deps.Variables,
		datasets:      deps.Datasets,
		dataSources:   deps.DataSources,
		completions:   deps.Completions,
		functionCalls: deps.FunctionCalls,
		sqlPreviews:   deps.SQLPreviews,
		secretKeys:    deps.SecretKeys,
		notifier:      deps.Notifier,
		queryParams:   deps.QueryParams,
		recorder:      deps.Recorder,
		reload:        deps.Reload,
		onUIMessage:   deps.OnUIElementMessage,
		logger:        deps.Logger,
		tr:            deps.Transport,
	}
	if m.st == nil {
		m.st = status.NewTracker()
	}
	if m.cells == nil {
		m.cells = registry.NewCells()
	}
	if m.vars == nil {
		m.vars = registry.NewVariables()
	}
	if m.datasets == nil {
		m.datasets = registry.NewDatasets()
	}
	if m.dataSources == nil {
		m.dataSources = registry.NewDataSources()
	}
	if m.completions == nil {
		m.completions = registry.NewRequests[*ops.CompletionResult]()
	}
	if m.functionCalls == nil {
		m.functionCalls = registry.NewRequests[*ops.FunctionCallResult]()
	}
	if m.sqlPreviews == nil {
		m.sqlPreviews = registry.NewRequests[*ops.SQLTablePreviewResult]()
	}
	if m.secretKeys == nil {
		m.secretKeys = registry.NewRequests[*ops.SecretKeysResult]()
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.notifier == nil {
		m.notifier = notify.NewLogNotifier(m.logger)
	}
	if m.queryParams == nil {
		m.queryParams = queryparams.NewURLParams(nil)
	}
	if m.sessionID == "" {
		m.sessionID = runtime.NewSessionID()
	}
	return m
}

// SessionID is the id this manager minted for its session.
func (m *Manager) SessionID() string { return m.sessionID }

// Status returns the status tracker for subscriptions and reads.
func (m *Manager) Status() *status.Tracker { return m.st }

// Cells returns the cell registry.
func (m *Manager) Cells() *registry.Cells { return m.cells }

// Start connects to the kernel session. In static mode the transport is a
// stub that opens once and discards writes; remote backends are probed for
// health before the first dial.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx = ctx

	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()

	if tr == nil {
		if m.cfg.Static {
			tr = transport.NewStatic()
		} else {
			if m.rt.IsRemote() {
				if err := m.rt.WaitForHealthy(ctx); err != nil {
					m.st.Set(status.Closed(status.ReasonKernelDisconnected, err.Error(), false))
					return err
				}
			}
			tr = m.newWebSocket(false)
		}
		m.mu.Lock()
		m.tr = tr
		m.mu.Unlock()
	}

	m.st.Set(status.Connecting())
	if err := tr.Connect(ctx, m.handler()); err != nil {
		m.st.Set(status.Closed(status.ReasonKernelDisconnected, err.Error(), false))
		return err
	}
	return nil
}

// Takeover reconnects with the takeover flag set, evicting whichever client
// currently holds the kernel. Valid only after a close that allowed it.
func (m *Manager) Takeover(ctx context.Context) error {
	if st := m.st.Get(); !st.IsClosed() || !st.CanTakeover {
		return fmt.Errorf("kernel: takeover not available in state %s", m.st.Get().State)
	}
	tr := m.newWebSocket(true)
	m.mu.Lock()
	m.tr = tr
	m.mu.Unlock()

	m.st.Set(status.Connecting())
	if err := tr.Connect(ctx, m.handler()); err != nil {
		m.st.Set(status.Closed(status.ReasonKernelDisconnected, err.Error(), false))
		return err
	}
	return nil
}

// Close shuts the connection down for good.
func (m *Manager) Close() error {
	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()
	m.st.Set(status.Closing())
	var err error
	if tr != nil {
		err = tr.Close()
	}
	m.st.Set(status.Closed(status.ReasonKernelDisconnected, "client closed the connection", false))
	return err
}

// AppConfig returns the notebook configuration from kernel-ready.
func (m *Manager) AppConfig() model.AppConfig {
	m.readyMu.RLock()
	defer m.readyMu.RUnlock()
	return m.appConfig
}

// Capabilities returns the backend capabilities from kernel-ready.
func (m *Manager) Capabilities() model.KernelCapabilities {
	m.readyMu.RLock()
	defer m.readyMu.RUnlock()
	return m.capabilities
}

// Resumed reports whether this session reattached to a running kernel.
func (m *Manager) Resumed() bool {
	m.readyMu.RLock()
	defer m.readyMu.RUnlock()
	return m.resumed
}

func (m *Manager) newWebSocket(takeover bool) *transport.WebSocket {
	return transport.NewWebSocket(transport.Options{
		URL:          m.rt.SessionURL(m.sessionID, takeover),
		DialTimeout:  m.cfg.ConnectTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		Backoff:      m.cfg.RetryBackoff,
		MaxFrameSize: int64(m.cfg.MaxFrameSize),
		Logger:       m.logger.Named("ws"),
	})
}

func (m *Manager) handler() transport.Handler {
	return transport.Handler{
		OnOpen:    m.handleOpen,
		OnMessage: m.handleMessage,
		OnClose:   m.handleClose,
		OnError:   m.handleError,
	}
}

func (m *Manager) handleOpen() {
	m.mu.Lock()
	m.shouldReconnect = true
	m.mu.Unlock()

	m.st.Set(status.Open())
	m.logger.Info("connection open", zap.String("session_id", m.sessionID))
}

func (m *Manager) handleMessage(data []byte) {
	op, err := ops.Decode(data)
	if err != nil {
		m.logger.Error("dropping message", zap.Error(err))
		m.notifier.Toast("Failed to handle message from the kernel", err)
		return
	}
	// A dispatch panic must not take the connection down with it.
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("dispatch %s: panic: %v", op.Tag(), r)
			m.logger.Error("dispatch panicked", zap.Error(err))
			m.notifier.Toast("Failed to handle message from the kernel", err)
		}
	}()
	m.dispatch(op)
}

func (m *Manager) handleClose(code int, reason string) {
	policy := classifyClose(reason)
	m.logger.Info("connection closed",
		zap.Int("code", code),
		zap.String("reason", reason),
		zap.Bool("retry", policy.retry))

	if policy.retry {
		if m.consumeReconnect() {
			m.st.Set(status.Connecting())
			m.transportRef().Reconnect()
			return
		}
		m.st.Set(status.Closed(status.ReasonKernelDisconnected, reason, false))
		return
	}

	// A terminal close settles the state machine for good: any reconnect
	// still armed from the last open must not fire on later stray events.
	m.disarmReconnect()
	m.st.Set(policy.status)
	if policy.closeTransport {
		if tr := m.transportRef(); tr != nil {
			tr.Close()
		}
	}
}

func (m *Manager) handleError(err error) {
	m.logger.Error("connection error", zap.Error(err))
	if m.consumeReconnect() {
		m.st.Set(status.Connecting())
		m.transportRef().Reconnect()
		return
	}
	m.st.Set(status.Closed(status.ReasonKernelDisconnected, err.Error(), false))
}

// consumeReconnect burns the one reconnect attempt armed by the last open.
func (m *Manager) consumeReconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.shouldReconnect {
		return false
	}
	m.shouldReconnect = false
	return true
}

func (m *Manager) disarmReconnect() {
	m.mu.Lock()
	m.shouldReconnect = false
	m.mu.Unlock()
}

func (m *Manager) transportRef() transport.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr
}

func (m *Manager) send(op string, payload any) error {
	frame, err := ops.EncodeRequest(op, payload)
	if err != nil {
		return err
	}
	tr := m.transportRef()
	if tr == nil {
		return transport.ErrNotConnected
	}
	return tr.Send(frame)
}

type instantiatePayload struct {
	AutoRun bool `json:"auto_run"`
}

type runPayload struct {
	CellIDs []model.CellID `json:"cell_ids"`
	Codes   []string       `json:"codes"`
}

// RunCells asks the kernel to execute the given cells. Fire and forget; the
// results stream back as cell-op frames.
func (m *Manager) RunCells(cellIDs []model.CellID, codes []string) error {
	if len(cellIDs) != len(codes) {
		return fmt.Errorf("kernel: %d cell ids for %d codes", len(cellIDs), len(codes))
	}
	if !m.st.Get().CanInteract() {
		return ErrNotInteractive
	}
	return m.send("run", runPayload{CellIDs: cellIDs, Codes: codes})
}

// Interrupt asks the kernel to abort the current run.
func (m *Manager) Interrupt() error {
	if !m.st.Get().CanInteract() {
		return ErrNotInteractive
	}
	return m.send("interrupt", struct{}{})
}

type completionPayload struct {
	RequestID string       `json:"request_id"`
	Document  string       `json:"document"`
	CellID    model.CellID `json:"cell_id"`
	Position  int          `json:"position"`
}

// RequestCompletion asks for code completions at a position and waits for
// the correlated result. Cancellation is the caller's ctx; there is no
// internal timeout.
func (m *Manager) RequestCompletion(ctx context.Context, cellID model.CellID, document string, position int) (*ops.CompletionResult, error) {
	if !m.st.Get().CanInteract() {
		return nil, ErrNotInteractive
	}
	p := m.completions.Create()
	err := m.send("code-completion", completionPayload{
		RequestID: p.ID(),
		Document:  document,
		CellID:    cellID,
		Position:  position,
	})
	if err != nil {
		m.completions.Reject(p.ID(), err)
		return nil, err
	}
	return p.Await(ctx)
}

type functionCallPayload struct {
	RequestID    string `json:"request_id"`
	Namespace    string `json:"namespace"`
	FunctionName string `json:"function_name"`
	Args         any    `json:"args"`
}

// CallFunction invokes a backend function exposed by a UI element and waits
// for the correlated result.
func (m *Manager) CallFunction(ctx context.Context, namespace, functionName string, args any) (*ops.FunctionCallResult, error) {
	if !m.st.Get().CanInteract() {
		return nil, ErrNotInteractive
	}
	p := m.functionCalls.Create()
	err := m.send("function-call", functionCallPayload{
		RequestID:    p.ID(),
		Namespace:    namespace,
		FunctionName: functionName,
		Args:         args,
	})
	if err != nil {
		m.functionCalls.Reject(p.ID(), err)
		return nil, err
	}
	return p.Await(ctx)
}

type sqlPreviewPayload struct {
	RequestID string `json:"request_id"`
	Engine    string `json:"engine"`
	Database  string `json:"database"`
	Schema    string `json:"schema"`
	TableName string `json:"table_name"`
}

// PreviewSQLTable asks for a preview of a table behind a data source
// connection and waits for the correlated result.
func (m *Manager) PreviewSQLTable(ctx context.Context, engine, database, schema, tableName string) (*ops.SQLTablePreviewResult, error) {
	if !m.st.Get().CanInteract() {
		return nil, ErrNotInteractive
	}
	p := m.sqlPreviews.Create()
	err := m.send("sql-table-preview", sqlPreviewPayload{
		RequestID: p.ID(),
		Engine:    engine,
		Database:  database,
		Schema:    schema,
		TableName: tableName,
	})
	if err != nil {
		m.sqlPreviews.Reject(p.ID(), err)
		return nil, err
	}
	return p.Await(ctx)
}

type secretKeysPayload struct {
	RequestID string `json:"request_id"`
}

// RequestSecretKeys lists the secret names available to the kernel and waits
// for the correlated result.
func (m *Manager) RequestSecretKeys(ctx context.Context) (*ops.SecretKeysResult, error) {
	if !m.st.Get().CanInteract() {
		return nil, ErrNotInteractive
	}
	p := m.secretKeys.Create()
	if err := m.send("secret-keys", secretKeysPayload{RequestID: p.ID()}); err != nil {
		m.secretKeys.Reject(p.ID(), err)
		return nil, err
	}
	return p.Await(ctx)
}

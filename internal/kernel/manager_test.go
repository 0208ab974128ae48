package kernel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/marimo-team/kernelclient/internal/config"
	"github.com/marimo-team/kernelclient/internal/model"
	"github.com/marimo-team/kernelclient/internal/ops"
	"github.com/marimo-team/kernelclient/internal/registry"
	"github.com/marimo-team/kernelclient/internal/status"
	"github.com/marimo-team/kernelclient/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu         sync.Mutex
	h          transport.Handler
	sent       [][]byte
	reconnects int
	closes     int
}

func (f *fakeTransport) Connect(ctx context.Context, h transport.Handler) error {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Reconnect() {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) handler() transport.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

func (f *fakeTransport) stats() (reconnects, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects, f.closes
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

type recordedNotification struct {
	kind  string
	title string
	err   error
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []recordedNotification
	// panicOnAlert simulates a broken downstream consumer.
	panicOnAlert bool
}

func (n *fakeNotifier) record(kind, title string, err error) {
	n.mu.Lock()
	n.calls = append(n.calls, recordedNotification{kind, title, err})
	n.mu.Unlock()
}

func (n *fakeNotifier) Alert(title, description, variant string) {
	if n.panicOnAlert {
		panic("alert sink broken")
	}
	n.record("alert", title, nil)
}
func (n *fakeNotifier) Banner(title, description, variant string) { n.record("banner", title, nil) }
func (n *fakeNotifier) MissingPackages(packages []string, isolatedEnv bool) {
	n.record("missing-packages", "", nil)
}
func (n *fakeNotifier) InstallingPackages(packages map[string]string) {
	n.record("installing-packages", "", nil)
}
func (n *fakeNotifier) StartupLog(content, status string) { n.record("startup-log", content, nil) }
func (n *fakeNotifier) Toast(message string, err error)   { n.record("toast", message, err) }

func (n *fakeNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.calls))
	for _, c := range n.calls {
		out = append(out, c.kind)
	}
	return out
}

func newTestManager(t *testing.T, notifier *fakeNotifier) (*Manager, *fakeTransport) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AutoInstantiate = false
	tr := &fakeTransport{}
	m := NewManager(Deps{
		Config:    cfg,
		Transport: tr,
		Notifier:  notifier,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, m.Start(context.Background()))
	return m, tr
}

func frame(t *testing.T, tag ops.Tag, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(ops.Envelope{Op: tag, Data: data})
	require.NoError(t, err)
	return raw
}

func TestOpenArmsSingleReconnect(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()

	h.OnOpen()
	require.Equal(t, status.StateOpen, m.Status().Get().State)

	// First unexpected close consumes the armed reconnect.
	h.OnClose(1006, "network hiccup")
	require.Equal(t, status.StateConnecting, m.Status().Get().State)
	reconnects, _ := tr.stats()
	require.Equal(t, 1, reconnects)

	// A second close without an intervening open must not reconnect again.
	h.OnClose(1006, "network hiccup")
	st := m.Status().Get()
	require.Equal(t, status.StateClosed, st.State)
	require.Equal(t, status.ReasonKernelDisconnected, st.Code)
	reconnects, _ = tr.stats()
	require.Equal(t, 1, reconnects)
}

func TestReconnectFlagRearmsOnEveryOpen(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()

	h.OnOpen()
	h.OnClose(1006, "drop one")
	h.OnOpen()
	h.OnClose(1006, "drop two")

	reconnects, _ := tr.stats()
	require.Equal(t, 2, reconnects)
	require.Equal(t, status.StateConnecting, m.Status().Get().State)
}

func TestTransportErrorUsesBoundedReconnect(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()

	h.OnOpen()
	h.OnError(context.DeadlineExceeded)
	require.Equal(t, status.StateConnecting, m.Status().Get().State)
	reconnects, _ := tr.stats()
	require.Equal(t, 1, reconnects)

	h.OnError(context.DeadlineExceeded)
	require.Equal(t, status.StateClosed, m.Status().Get().State)
	reconnects, _ = tr.stats()
	require.Equal(t, 1, reconnects)
}

func TestAlreadyConnectedCloseIsTerminal(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()

	h.OnClose(1008, CloseReasonAlreadyConnected)

	st := m.Status().Get()
	require.Equal(t, status.StateClosed, st.State)
	require.Equal(t, status.ReasonAlreadyRunning, st.Code)
	require.True(t, st.CanTakeover)

	reconnects, closes := tr.stats()
	require.Zero(t, reconnects, "must not burn the reconnect on a terminal close")
	require.Equal(t, 1, closes)
}

func TestStrayEventsAfterTerminalCloseStayClosed(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()
	h.OnClose(1008, CloseReasonAlreadyConnected)

	// Late transport events after a terminal close must not revive the
	// connection or spend the reconnect armed by the earlier open.
	h.OnClose(1006, "late network blip")
	h.OnError(context.DeadlineExceeded)

	st := m.Status().Get()
	require.Equal(t, status.StateClosed, st.State)
	require.Equal(t, status.ReasonAlreadyRunning, st.Code)
	require.True(t, st.CanTakeover)
	reconnects, _ := tr.stats()
	require.Zero(t, reconnects)
}

func TestStrayCloseAfterStartupErrorOpStaysClosed(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()
	h.OnMessage(frame(t, ops.TagKernelStartupError, ops.KernelStartupError{Message: "bad import"}))

	h.OnClose(1006, "socket teardown")

	st := m.Status().Get()
	require.Equal(t, status.StateClosed, st.State)
	require.Equal(t, status.ReasonKernelStartupError, st.Code)
	reconnects, _ := tr.stats()
	require.Zero(t, reconnects)
}

func TestTerminalClosesNeverReconnect(t *testing.T) {
	terminal := []string{
		CloseReasonShutdown,
		CloseReasonMalformedQuery,
		CloseReasonKernelStartupError,
		CloseReasonWrongKernelID,
		CloseReasonNoFileKey,
		CloseReasonNoSessionID,
		CloseReasonNoSession,
	}
	for _, reason := range terminal {
		t.Run(reason, func(t *testing.T) {
			m, tr := newTestManager(t, &fakeNotifier{})
			h := tr.handler()
			h.OnOpen()
			h.OnClose(1000, reason)

			require.Equal(t, status.StateClosed, m.Status().Get().State)
			reconnects, _ := tr.stats()
			require.Zero(t, reconnects)
		})
	}
}

func TestKernelReadySeedsCellsOnce(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()

	h.OnMessage(frame(t, ops.TagKernelReady, ops.KernelReady{
		Cells: []model.CellData{{ID: "a", Code: "x = 1"}, {ID: "b", Code: "y = 2"}},
	}))
	require.Equal(t, []model.CellID{"a", "b"}, m.Cells().Order())

	// A replayed kernel-ready must not discard accumulated state.
	h.OnMessage(frame(t, ops.TagCellOp, ops.CellOp{CellID: "a", Status: model.RunStatusRunning}))
	h.OnMessage(frame(t, ops.TagKernelReady, ops.KernelReady{
		Cells: []model.CellData{{ID: "other"}},
	}))

	require.Equal(t, []model.CellID{"a", "b"}, m.Cells().Order())
	st, _ := m.Cells().Get("a")
	require.Equal(t, model.RunStatusRunning, st.Status)
}

func TestKernelReadyResumedMarksStaleCells(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()

	h.OnMessage(frame(t, ops.TagKernelReady, ops.KernelReady{
		Cells:   []model.CellData{{ID: "a", Code: "x = 2"}, {ID: "b", Code: "y = 1"}},
		Resumed: true,
		LastExecutedCode: map[model.CellID]string{
			"a": "x = 1", // file changed since last run
			"b": "y = 1",
		},
	}))

	require.True(t, m.Resumed())
	stA, _ := m.Cells().Get("a")
	require.True(t, stA.StaleInputs)
	stB, _ := m.Cells().Get("b")
	require.False(t, stB.StaleInputs)
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	notifier := &fakeNotifier{}
	m, tr := newTestManager(t, notifier)
	h := tr.handler()
	h.OnOpen()

	h.OnMessage([]byte(`{"op": "no-such-operation", "data": {}}`))
	h.OnMessage([]byte(`not even json`))

	require.Equal(t, status.StateOpen, m.Status().Get().State)
	require.Equal(t, []string{"toast", "toast"}, notifier.kinds())
}

func TestDispatchPanicKeepsConnectionOpen(t *testing.T) {
	notifier := &fakeNotifier{panicOnAlert: true}
	m, tr := newTestManager(t, notifier)
	h := tr.handler()
	h.OnOpen()

	h.OnMessage(frame(t, ops.TagAlert, ops.Alert{Title: "boom"}))
	require.Equal(t, status.StateOpen, m.Status().Get().State)

	// Later messages still dispatch.
	h.OnMessage(frame(t, ops.TagBanner, ops.Banner{Title: "still alive"}))
	kinds := notifier.kinds()
	require.Equal(t, []string{"toast", "banner"}, kinds)
}

func TestKernelStartupErrorOpClosesConnection(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()

	h.OnMessage(frame(t, ops.TagKernelStartupError, ops.KernelStartupError{Message: "bad import"}))

	st := m.Status().Get()
	require.Equal(t, status.StateClosed, st.State)
	require.Equal(t, status.ReasonKernelStartupError, st.Code)
	require.Equal(t, "bad import", st.Reason)
	_, closes := tr.stats()
	require.Equal(t, 1, closes)
}

func TestVariablesPruneDatasets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AutoInstantiate = false
	tr := &fakeTransport{}
	datasets := registry.NewDatasets()
	sources := registry.NewDataSources()
	m := NewManager(Deps{
		Config:      cfg,
		Transport:   tr,
		Datasets:    datasets,
		DataSources: sources,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, m.Start(context.Background()))
	h := tr.handler()
	h.OnOpen()

	h.OnMessage(frame(t, ops.TagDatasets, ops.Datasets{
		Tables: []model.DataTable{{Name: "sales", VariableName: "df"}},
	}))
	h.OnMessage(frame(t, ops.TagDataSourceConnections, ops.DataSourceConnections{
		Connections: []model.DataSourceConnection{{Name: "duckdb", VariableName: "conn"}},
	}))
	h.OnMessage(frame(t, ops.TagVariables, ops.Variables{
		Variables: []model.Variable{{Name: "df"}, {Name: "conn"}},
	}))
	require.Equal(t, 1, datasets.Len())
	require.Equal(t, 1, sources.Len())

	// Dropping the backing variables prunes both registries.
	h.OnMessage(frame(t, ops.TagVariables, ops.Variables{
		Variables: []model.Variable{{Name: "unrelated"}},
	}))
	require.Equal(t, 0, datasets.Len())
	require.Equal(t, 0, sources.Len())
	require.Equal(t, status.StateOpen, m.Status().Get().State)
}

func TestRequestCorrelation(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()

	type result struct {
		res *ops.CompletionResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := m.RequestCompletion(context.Background(), "a", "import ma", 9)
		done <- result{res, err}
	}()

	// Wait for the outbound frame and lift its request id.
	var requestID string
	deadline := time.Now().Add(2 * time.Second)
	for requestID == "" {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for completion request frame")
		}
		for _, raw := range tr.sentFrames() {
			var env ops.Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			if env.Op != ops.Tag("code-completion") {
				continue
			}
			var payload struct {
				RequestID string `json:"request_id"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &payload))
			requestID = payload.RequestID
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A response for some other request must be a silent no-op.
	h.OnMessage(frame(t, ops.TagCompletionResult, ops.CompletionResult{RequestID: "stray"}))
	select {
	case <-done:
		t.Fatal("stray response resolved the wrong request")
	case <-time.After(50 * time.Millisecond):
	}

	h.OnMessage(frame(t, ops.TagCompletionResult, ops.CompletionResult{
		RequestID:    requestID,
		PrefixLength: 2,
		Options:      []ops.CompletionOption{{Name: "marimo", Type: "module"}},
	}))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, 2, r.res.PrefixLength)
		require.Len(t, r.res.Options, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for correlated result")
	}
}

func TestRequestsRejectedWhenClosed(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()
	h.OnClose(1000, CloseReasonShutdown)

	_, err := m.RequestCompletion(context.Background(), "a", "doc", 0)
	require.ErrorIs(t, err, ErrNotInteractive)
	_, err = m.RequestSecretKeys(context.Background())
	require.ErrorIs(t, err, ErrNotInteractive)
	require.ErrorIs(t, m.Interrupt(), ErrNotInteractive)
}

func countInstantiates(t *testing.T, tr *fakeTransport) int {
	t.Helper()
	n := 0
	for _, raw := range tr.sentFrames() {
		var env ops.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Op == ops.Tag("instantiate") {
			n++
		}
	}
	return n
}

func TestAutoInstantiateWaitsForKernelReady(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AutoInstantiate = true
	tr := &fakeTransport{}
	m := NewManager(Deps{Config: cfg, Transport: tr, Logger: zap.NewNop()})
	require.NoError(t, m.Start(context.Background()))
	h := tr.handler()

	// The first run must not start before the cell list is seeded.
	h.OnOpen()
	require.Zero(t, countInstantiates(t, tr))

	h.OnMessage(frame(t, ops.TagKernelReady, ops.KernelReady{
		Cells: []model.CellData{{ID: "a", Code: "x = 1"}},
	}))
	require.Equal(t, []model.CellID{"a"}, m.Cells().Order())
	require.Equal(t, 1, countInstantiates(t, tr))

	// A reconnect replaying kernel-ready must not run the notebook again.
	h.OnClose(1006, "drop")
	h.OnOpen()
	h.OnMessage(frame(t, ops.TagKernelReady, ops.KernelReady{
		Cells: []model.CellData{{ID: "a", Code: "x = 1"}},
	}))
	require.Equal(t, 1, countInstantiates(t, tr))
	require.Equal(t, status.StateOpen, m.Status().Get().State)
}

func TestQueryParamOps(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()

	h.OnMessage(frame(t, ops.TagQueryParamsSet, ops.QueryParamsSet{Key: "env", Value: "prod"}))
	h.OnMessage(frame(t, ops.TagQueryParamsAppend, ops.QueryParamsAppend{Key: "env", Value: "staging"}))
	h.OnMessage(frame(t, ops.TagQueryParamsClear, ops.QueryParamsClear{}))

	require.Equal(t, status.StateOpen, m.Status().Get().State)
}

func TestSessionIDInjectedOrMinted(t *testing.T) {
	cfg := config.DefaultConfig()
	tr := &fakeTransport{}

	m := NewManager(Deps{Config: cfg, Transport: tr, SessionID: "s_fixed", Logger: zap.NewNop()})
	require.Equal(t, "s_fixed", m.SessionID())

	minted := NewManager(Deps{Config: cfg, Transport: tr, Logger: zap.NewNop()})
	require.True(t, strings.HasPrefix(minted.SessionID(), "s_"))
	require.NotEqual(t, m.SessionID(), minted.SessionID())
}

func TestCloseSettlesStatus(t *testing.T) {
	m, tr := newTestManager(t, &fakeNotifier{})
	h := tr.handler()
	h.OnOpen()

	require.NoError(t, m.Close())
	st := m.Status().Get()
	require.Equal(t, status.StateClosed, st.State)
	_, closes := tr.stats()
	require.Equal(t, 1, closes)
}

// Package ingestion keeps one upstream log subscription on the current pair
// and turns its notifications into published buy events.
package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
	"buywatch/internal/solana"
)

// Defaults.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultConcurrency    = 16
)

// Connect triggers, recorded in metrics.
const (
	TriggerStartup    = "startup"
	TriggerPairChange = "pair_change"
	TriggerTimer      = "timer"
)

// DialFunc opens a new upstream log stream.
type DialFunc func(ctx context.Context) (solana.LogStream, error)

// SignatureFilter admits each signature at most once.
type SignatureFilter interface {
	ShouldProcess(signature string) bool
	Len() int
}

// Classifier turns a signature into a buy event, or nil when it is not one.
type Classifier interface {
	Classify(ctx context.Context, signature string) (*domain.BuyEvent, error)
}

// Publisher receives classified buys.
type Publisher interface {
	Publish(ev domain.Event)
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Dial           DialFunc
	Filter         SignatureFilter
	Classifier     Classifier
	Publisher      Publisher
	Logger         *zap.Logger
	ReconnectDelay time.Duration
	Concurrency    int64
}

// Manager owns the upstream connection. At most one stream is live and at
// most one reconnect is pending at any time.
type Manager struct {
	dial           DialFunc
	filter         SignatureFilter
	classifier     Classifier
	publisher      Publisher
	logger         *zap.Logger
	reconnectDelay time.Duration
	sem            *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	pair       string
	stream     solana.LogStream
	generation uint64 // bumped per connect; stale streams compare against it
	timer      *time.Timer
	subscribed bool
	closed     bool
}

// NewManager creates a Manager. Nothing is dialed until Connect.
func NewManager(opts ManagerOptions) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dial:           opts.Dial,
		filter:         opts.Filter,
		classifier:     opts.Classifier,
		publisher:      opts.Publisher,
		logger:         opts.Logger,
		reconnectDelay: opts.ReconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.reconnectDelay <= 0 {
		m.reconnectDelay = DefaultReconnectDelay
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	m.sem = semaphore.NewWeighted(concurrency)
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pair returns the pair the manager subscribes to.
func (m *Manager) Pair() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair
}

// HasSubscribed reports whether a subscription was ever established.
func (m *Manager) HasSubscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed
}

// Connect subscribes to logs mentioning pair. An empty pair keeps the current
// one; with no pair at all Connect does nothing. Without force, Connect is a
// no-op while a connection is being established or is live. With force, the
// current stream is replaced and any pending reconnect is cancelled.
func (m *Manager) Connect(pair string, force bool) {
	m.connect(pair, force, TriggerStartup)
}

// Reconnect moves the subscription to pair.
func (m *Manager) Reconnect(pair string, force bool) {
	m.connect(pair, force, TriggerPairChange)
}

func (m *Manager) connect(pair string, force bool, trigger string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if pair != "" {
		m.pair = pair
	}
	if m.pair == "" {
		m.mu.Unlock()
		return
	}
	if !force && (m.state == StateConnecting || m.state == StateSubscribed) {
		m.mu.Unlock()
		return
	}

	m.stopTimerLocked()
	m.generation++
	gen := m.generation
	old := m.stream
	m.stream = nil
	m.setStateLocked(StateConnecting)
	target := m.pair
	m.wg.Add(1)
	m.mu.Unlock()

	if old != nil {
		// Its read loop returns with a stale generation and schedules nothing.
		_ = old.Close()
	}

	observability.RecordConnect(trigger)
	m.logger.Info("connecting", zap.String("pair", target), zap.String("trigger", trigger), zap.Bool("force", force))

	go m.run(gen, target)
}

func (m *Manager) run(gen uint64, pair string) {
	defer m.wg.Done()

	stream, err := m.dial(m.ctx)
	if err != nil {
		m.logger.Warn("dial failed", zap.Error(err))
		m.connectionLost(gen, StateErrored)
		return
	}

	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		_ = stream.Close()
		return
	}
	m.stream = stream
	// The pair may have changed while dialing.
	pair = m.pair
	m.mu.Unlock()

	if err := stream.SubscribeLogs(solana.LogsFilter{Mentions: []string{pair}}); err != nil {
		m.logger.Warn("subscribe failed", zap.String("pair", pair), zap.Error(err))
		_ = stream.Close()
		m.connectionLost(gen, StateErrored)
		return
	}

	m.mu.Lock()
	if gen == m.generation && !m.closed {
		m.stopTimerLocked()
		m.subscribed = true
		m.setStateLocked(StateSubscribed)
	}
	m.mu.Unlock()

	err = stream.ReadLoop(m.handleNotification)
	_ = stream.Close()

	if err != nil && !errors.Is(err, solana.ErrStreamClosed) {
		m.logger.Warn("log stream failed", zap.String("pair", pair), zap.Error(err))
		m.connectionLost(gen, StateErrored)
		return
	}
	m.connectionLost(gen, StateClosed)
}

// connectionLost records the end of connection gen and schedules a reconnect,
// unless gen was superseded or the manager is closed.
func (m *Manager) connectionLost(gen uint64, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.closed {
		return
	}
	m.stream = nil
	m.setStateLocked(st)
	m.logger.Warn("log stream closed, reconnecting",
		zap.String("state", st.String()),
		zap.Duration("delay", m.reconnectDelay))
	m.setStateLocked(StateDisconnected)
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending.
func (m *Manager) scheduleReconnectLocked() {
	if m.timer != nil || m.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		if m.timer != t {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		m.connect("", true, TriggerTimer)
	})
	m.timer = t
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(st State) {
	m.state = st
	observability.SetStreamState(int(st))
}

// handleNotification runs on the read loop and must not block.
func (m *Manager) handleNotification(n solana.LogNotification) {
	observability.RecordNotification()

	// A failed transaction moved no balances.
	if n.Err != nil {
		return
	}
	if !m.filter.ShouldProcess(n.Signature) {
		observability.RecordDuplicate()
		return
	}
	observability.SetSeenSignatures(m.filter.Len())

	m.wg.Add(1)
	go m.classify(n.Signature, n.Slot)
}

func (m *Manager) classify(signature string, slot int64) {
	defer m.wg.Done()

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	observability.AddClassificationsInFlight(1)
	defer observability.AddClassificationsInFlight(-1)

	ev, err := m.classifier.Classify(m.ctx, signature)
	if err != nil {
		m.logger.Debug("classification failed", zap.String("signature", signature), zap.Int64("slot", slot), zap.Error(err))
		return
	}
	if ev == nil {
		return
	}

	observability.RecordBuy(int(ev.Level), ev.Source)
	m.logger.Info("buy",
		zap.String("signature", signature),
		zap.Int64("slot", slot),
		zap.String("wallet", ev.Wallet),
		zap.Float64("amount_sol", ev.AmountSol),
		zap.Int("level", int(ev.Level)))
	m.publisher.Publish(*ev)
}

// Close stops reconnecting, closes the stream and waits for in-flight
// classifications to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked()
	m.generation++
	stream := m.stream
	m.stream = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.cancel()
	if stream != nil {
		_ = stream.Close()
	}
	m.wg.Wait()
}

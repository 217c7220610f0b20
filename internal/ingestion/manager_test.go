package ingestion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buywatch/internal/dedup"
	"buywatch/internal/domain"
	"buywatch/internal/solana"
	"buywatch/internal/solana/stub"
)

const testDelay = 20 * time.Millisecond

// dialer hands out stub streams and records every dial.
type dialer struct {
	mu      sync.Mutex
	dials   int
	failN   int           // number of leading dials that fail
	gate    chan struct{} // when set, dials wait for it
	streams chan *stub.LogStream
}

func newDialer() *dialer {
	return &dialer{streams: make(chan *stub.LogStream, 16)}
}

func (d *dialer) dial(context.Context) (solana.LogStream, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	if d.failN > 0 {
		d.failN--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	d.mu.Unlock()

	s := stub.NewLogStream()
	d.streams <- s
	return s, nil
}

func (d *dialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *dialer) next(t *testing.T) *stub.LogStream {
	t.Helper()
	select {
	case s := <-d.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

type fakeClassifier struct {
	mu     sync.Mutex
	calls  map[string]int
	buys   map[string]*domain.BuyEvent
	errs   map[string]error
	block  chan struct{} // when set, Classify waits for it
	active atomic.Int32
	peak   atomic.Int32
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		calls: make(map[string]int),
		buys:  make(map[string]*domain.BuyEvent),
		errs:  make(map[string]error),
	}
}

func (c *fakeClassifier) Classify(ctx context.Context, sig string) (*domain.BuyEvent, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}

	c.mu.Lock()
	c.calls[sig]++
	ev, err, block := c.buys[sig], c.errs[sig], c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return ev, err
}

func (c *fakeClassifier) callsFor(sig string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[sig]
}

func (c *fakeClassifier) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) snapshot() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

type fixture struct {
	m          *Manager
	dialer     *dialer
	classifier *fakeClassifier
	publisher  *recordingPublisher
}

func newFixture(t *testing.T, concurrency int64) *fixture {
	t.Helper()
	filter, err := dedup.NewFilter(1000)
	require.NoError(t, err)

	f := &fixture{
		dialer:     newDialer(),
		classifier: newFakeClassifier(),
		publisher:  &recordingPublisher{},
	}
	f.m = NewManager(ManagerOptions{
		Dial:           f.dialer.dial,
		Filter:         filter,
		Classifier:     f.classifier,
		Publisher:      f.publisher,
		ReconnectDelay: testDelay,
		Concurrency:    concurrency,
	})
	t.Cleanup(f.m.Close)
	return f
}

func (f *fixture) waitSubscribed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.m.State() == StateSubscribed },
		2*time.Second, 2*time.Millisecond)
}

func TestManager_ConnectSubscribesToPair(t *testing.T) {
	f := newFixture(t, 0)
	assert.False(t, f.m.HasSubscribed())

	f.m.Connect("PairA", false)
	s := f.dialer.next(t)
	f.waitSubscribed(t)

	assert.Equal(t, []solana.LogsFilter{{Mentions: []string{"PairA"}}}, s.Filters())
	assert.True(t, f.m.HasSubscribed())
	assert.Equal(t, "PairA", f.m.Pair())
}

func TestManager_ConnectWithoutPairIsNoop(t *testing.T) {
	f := newFixture(t, 0)

	f.m.Connect("", true)
	time.Sleep(5 * testDelay)

	assert.Equal(t, 0, f.dialer.count())
	assert.Equal(t, StateDisconnected, f.m.State())
}

func TestManager_ClassifiesEachSignatureOnce(t *testing.T) {
	f := newFixture(t, 0)
	f.classifier.buys["sig1"] = &domain.BuyEvent{Wallet: "W", AmountSol: 2, Level: 3, Signature: "sig1", Source: domain.SourceRPCLogs}

	f.m.Connect("PairA", false)
	s := f.dialer.next(t)
	f.waitSubscribed(t)

	for i := 0; i < 3; i++ {
		s.Notify(solana.LogNotification{Signature: "sig1"})
	}
	s.Notify(solana.LogNotification{Signature: "sig2"})

	require.Eventually(t, func() bool { return f.classifier.total() == 2 }, 2*time.Second, 2*time.Millisecond)
	time.Sleep(5 * testDelay)

	assert.Equal(t, 1, f.classifier.callsFor("sig1"))
	assert.Equal(t, 1, f.classifier.callsFor("sig2"))

	require.Eventually(t, func() bool { return len(f.publisher.snapshot()) == 1 }, time.Second, 2*time.Millisecond)
	buy, ok := f.publisher.snapshot()[0].(domain.BuyEvent)
	require.True(t, ok)
	assert.Equal(t, "sig1", buy.Signature)
}

func TestManager_SkipsFailedTransactions(t *testing.T) {
	f := newFixture(t, 0)

	f.m.Connect("PairA", false)
	s := f.dialer.next(t)
	f.waitSubscribed(t)

	s.Notify(solana.LogNotification{Signature: "failed", Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}})
	s.Notify(solana.LogNotification{Signature: "ok"})

	require.Eventually(t, func() bool { return f.classifier.callsFor("ok") == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, f.classifier.callsFor("failed"))
}

func TestManager_ClassificationErrorPublishesNothing(t *testing.T) {
	f := newFixture(t, 0)
	f.classifier.errs["sig"] = errors.New("rpc down")

	f.m.Connect("PairA", false)
	s := f.dialer.next(t)
	f.waitSubscribed(t)

	s.Notify(solana.LogNotification{Signature: "sig"})
	require.Eventually(t, func() bool { return f.classifier.callsFor("sig") == 1 }, 2*time.Second, 2*time.Millisecond)
	time.Sleep(5 * testDelay)
	assert.Empty(t, f.publisher.snapshot())
}

func TestManager_ReconnectsAfterStreamFailure(t *testing.T) {
	f := newFixture(t, 0)

	f.m.Connect("PairA", false)
	s1 := f.dialer.next(t)
	f.waitSubscribed(t)

	s1.Notify(solana.LogNotification{Signature: "sig1"})
	require.Eventually(t, func() bool { return f.classifier.callsFor("sig1") == 1 }, 2*time.Second, 2*time.Millisecond)

	s1.Fail(errors.New("connection reset"))

	s2 := f.dialer.next(t)
	f.waitSubscribed(t)
	assert.Equal(t, []solana.LogsFilter{{Mentions: []string{"PairA"}}}, s2.Filters())

	// The seen set survives reconnects.
	s2.Notify(solana.LogNotification{Signature: "sig1"})
	s2.Notify(solana.LogNotification{Signature: "sig2"})
	require.Eventually(t, func() bool { return f.classifier.callsFor("sig2") == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, f.classifier.callsFor("sig1"))
}

func TestManager_ReconnectTimerCoalesces(t *testing.T) {
	f := newFixture(t, 0)

	f.m.mu.Lock()
	f.m.pair = "PairA"
	for i := 0; i < 5; i++ {
		f.m.scheduleReconnectLocked()
	}
	f.m.mu.Unlock()

	f.dialer.next(t)
	f.waitSubscribed(t)
	time.Sleep(5 * testDelay)

	assert.Equal(t, 1, f.dialer.count())
}

func TestManager_ForcedReconnectOnPairChange(t *testing.T) {
	f := newFixture(t, 0)

	f.m.Connect("PairA", false)
	s1 := f.dialer.next(t)
	f.waitSubscribed(t)

	s1.Notify(solana.LogNotification{Signature: "sig1"})
	require.Eventually(t, func() bool { return f.classifier.callsFor("sig1") == 1 }, 2*time.Second, 2*time.Millisecond)

	f.m.Reconnect("PairB", f.m.HasSubscribed())

	s2 := f.dialer.next(t)
	f.waitSubscribed(t)
	assert.True(t, s1.IsClosed())
	assert.Equal(t, []solana.LogsFilter{{Mentions: []string{"PairB"}}}, s2.Filters())

	// The superseded stream must not schedule its own reconnect.
	time.Sleep(5 * testDelay)
	assert.Equal(t, 2, f.dialer.count())

	s2.Notify(solana.LogNotification{Signature: "sig1"})
	s2.Notify(solana.LogNotification{Signature: "sig3"})
	require.Eventually(t, func() bool { return f.classifier.callsFor("sig3") == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, f.classifier.callsFor("sig1"), "dedup set untouched by pair change")
}

func TestManager_PairChangeDuringDialSubscribesToCurrentPair(t *testing.T) {
	f := newFixture(t, 0)
	release := make(chan struct{})
	f.dialer.gate = release

	f.m.Connect("PairA", false)
	require.Eventually(t, func() bool { return f.dialer.count() == 1 }, 2*time.Second, 2*time.Millisecond)
	require.False(t, f.m.HasSubscribed())

	f.m.Reconnect("PairB", f.m.HasSubscribed())
	close(release)

	s := f.dialer.next(t)
	f.waitSubscribed(t)
	assert.Equal(t, []solana.LogsFilter{{Mentions: []string{"PairB"}}}, s.Filters())
	assert.Equal(t, "PairB", f.m.Pair())
	assert.Equal(t, 1, f.dialer.count())
}

func TestManager_ForcedConnectCancelsPendingTimer(t *testing.T) {
	f := newFixture(t, 0)
	f.m.reconnectDelay = 200 * time.Millisecond

	f.m.Connect("PairA", false)
	s1 := f.dialer.next(t)
	f.waitSubscribed(t)

	s1.Fail(nil)
	require.Eventually(t, func() bool { return f.m.State() == StateDisconnected }, time.Second, 2*time.Millisecond)

	f.m.Reconnect("PairB", true)
	f.dialer.next(t)
	f.waitSubscribed(t)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, f.dialer.count())
}

func TestManager_NonForcedConnectWhileSubscribedIsNoop(t *testing.T) {
	f := newFixture(t, 0)

	f.m.Connect("PairA", false)
	f.dialer.next(t)
	f.waitSubscribed(t)

	f.m.Connect("PairB", false)
	time.Sleep(5 * testDelay)

	assert.Equal(t, 1, f.dialer.count())
	assert.Equal(t, StateSubscribed, f.m.State())
}

func TestManager_DialFailureRetries(t *testing.T) {
	f := newFixture(t, 0)
	f.dialer.failN = 2

	f.m.Connect("PairA", false)
	f.dialer.next(t)
	f.waitSubscribed(t)

	assert.Equal(t, 3, f.dialer.count())
}

func TestManager_CloseStopsReconnects(t *testing.T) {
	f := newFixture(t, 0)

	f.m.Connect("PairA", false)
	s := f.dialer.next(t)
	f.waitSubscribed(t)

	f.m.Close()
	assert.True(t, s.IsClosed())

	time.Sleep(5 * testDelay)
	f.m.Connect("PairA", true)
	time.Sleep(5 * testDelay)

	assert.Equal(t, 1, f.dialer.count())
	assert.Equal(t, StateDisconnected, f.m.State())
}

func TestManager_ClassificationConcurrencyIsBounded(t *testing.T) {
	f := newFixture(t, 2)
	release := make(chan struct{})
	f.classifier.block = release

	f.m.Connect("PairA", false)
	s := f.dialer.next(t)
	f.waitSubscribed(t)

	for _, sig := range []string{"a", "b", "c", "d", "e"} {
		s.Notify(solana.LogNotification{Signature: sig})
	}

	require.Eventually(t, func() bool { return f.classifier.active.Load() == 2 }, 2*time.Second, 2*time.Millisecond)
	time.Sleep(5 * testDelay)
	assert.Equal(t, int32(2), f.classifier.active.Load())

	close(release)
	require.Eventually(t, func() bool { return f.classifier.total() == 5 }, 2*time.Second, 2*time.Millisecond)
	assert.LessOrEqual(t, f.classifier.peak.Load(), int32(2))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.Equal(t, "unknown", State(99).String())
}

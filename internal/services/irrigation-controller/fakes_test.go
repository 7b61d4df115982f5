package irrigation_controller

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

const (
	rawDry     = 3000 // > dry threshold 2800
	rawBetween = 2400 // neither dry nor wet enough
	rawWet     = 1800 // <= wet threshold 2000
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, d)
	f.now = f.now.Add(d)
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type fakeReader struct {
	raw      []int
	injected map[int]int
	reads    int
}

func newFakeReader(n, value int) *fakeReader {
	r := &fakeReader{raw: make([]int, n), injected: map[int]int{}}
	r.setAll(value)
	return r
}

func (f *fakeReader) setAll(v int) {
	for i := range f.raw {
		f.raw[i] = v
	}
}

func (f *fakeReader) Read(id int) int {
	f.reads++
	if v, ok := f.injected[id]; ok {
		delete(f.injected, id)
		return v
	}
	if id < 0 || id >= len(f.raw) {
		return config.MaxRaw
	}
	return f.raw[id]
}

func (f *fakeReader) Inject(id, value int) error {
	f.injected[id] = value
	return nil
}

type recordingPump struct {
	mu    sync.Mutex
	calls []bool
	on    bool
	err   error
}

func (p *recordingPump) SetPump(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, on)
	if p.err != nil {
		return p.err
	}
	p.on = on
	return nil
}

func (p *recordingPump) isOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

type recordingSink struct {
	mu          sync.Mutex
	states      []messages.StateChangeEvent
	diagnostics []messages.DiagnosticEvent
	completed   []messages.IrrigationCompletedEvent
	readings    []messages.ReadingsSnapshot
}

func (s *recordingSink) StateChanged(ev messages.StateChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, ev)
}

func (s *recordingSink) Diagnostic(ev messages.DiagnosticEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = append(s.diagnostics, ev)
}

func (s *recordingSink) IrrigationCompleted(ev messages.IrrigationCompletedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, ev)
}

func (s *recordingSink) Readings(ev messages.ReadingsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, ev)
}

func (s *recordingSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.diagnostics {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl   *Controller
	clock  *fakeClock
	reader *fakeReader
	pump   *recordingPump
	sink   *recordingSink
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		clock:  newFakeClock(),
		reader: newFakeReader(len(cfg.Layout), rawBetween),
		pump:   &recordingPump{},
		sink:   &recordingSink{},
	}
	h.ctrl = NewController(cfg, h.reader, h.pump, h.sink, h.clock, zerolog.Nop())
	return h
}

func (h *harness) tickAfter(d time.Duration) {
	h.clock.Advance(d)
	h.ctrl.Tick()
}

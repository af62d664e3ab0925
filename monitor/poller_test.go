package monitor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bdsinspector/locate"
	"bdsinspector/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	regionRe = regexp.MustCompile(`^execute @e\[name=(\S+?)\] \^ \^ \^ testfor @a\[name=(\S+?),x=(-?\d+),y=0,z=(-?\d+),dx=(\d+),dy=\d+,dz=(\d+)\]$`)
	radiusRe = regexp.MustCompile(`^execute @e\[name=(\S+?)\] \^ \^ \^ testfor @a\[name=(\S+?),x=0,y=0,z=0,r=\d+\]$`)
)

type position struct {
	dim locate.Dimension
	at  locate.Point
}

// fakeConsole 解析 list 与 testfor 命令，按已知坐标作答
type fakeConsole struct {
	mu          sync.Mutex
	roster      string
	anchors     map[string]locate.Dimension
	truth       map[string]position
	alwaysFalse bool
	listErrs    int
	commands    []string
}

func newFakeConsole(roster string, truth map[string]position) *fakeConsole {
	return &fakeConsole{
		roster:  roster,
		anchors: map[string]locate.Dimension{"ow": locate.Overworld, "ne": locate.Nether},
		truth:   truth,
	}
}

func (f *fakeConsole) Exec(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)

	if command == ListCommand {
		if f.listErrs > 0 {
			f.listErrs--
			return "", errors.New("console: response timed out")
		}
		return f.roster, nil
	}
	if m := regionRe.FindStringSubmatch(command); m != nil {
		rect := locate.Rect{X: atoi(m[3]), Z: atoi(m[4]), Width: atoi(m[5]), Height: atoi(m[6])}
		return f.answer(m[1], m[2], func(p locate.Point) bool { return rect.Contains(p) }), nil
	}
	if m := radiusRe.FindStringSubmatch(command); m != nil {
		return f.answer(m[1], m[2], func(locate.Point) bool { return true }), nil
	}
	return "Syntax error", nil
}

func (f *fakeConsole) answer(anchor, name string, inside func(locate.Point) bool) string {
	pos, ok := f.truth[name]
	if !f.alwaysFalse && ok && pos.dim == f.anchors[anchor] && inside(pos.at) {
		return fmt.Sprintf("Found %s\n", name)
	}
	return "No targets matched selector\n"
}

func (f *fakeConsole) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeConsole) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

var anchors = map[locate.Dimension]string{locate.Overworld: "ow", locate.Nether: "ne"}

func newTestPoller(t *testing.T, console *fakeConsole, opts PollerOptions) *Poller {
	t.Helper()
	searcher, err := locate.NewSearcher(locate.NewCommandOracle(console, anchors), locate.DefaultSearchConfig(), nil)
	require.NoError(t, err)
	if opts.Exclude == nil {
		opts.Exclude = []string{"ow", "ne"}
	}
	return NewPoller(console, searcher, opts)
}

// nearLocation 坐标误差不超过精度一半即视为相同
var nearLocation = cmp.Comparer(func(a, b locate.Location) bool {
	tol := max(a.Accuracy, b.Accuracy) / 2
	dx, dz := a.X-b.X, a.Z-b.Z
	return a.Dimension == b.Dimension && dx <= tol && dx >= -tol && dz <= tol && dz >= -tol
})

func TestCycleLocatesOnlyFoundPlayers(t *testing.T) {
	console := newFakeConsole("player count\nfoo, bar\n", map[string]position{
		"foo": {dim: locate.Overworld, at: locate.Point{X: 100, Z: 100}},
	})
	p := newTestPoller(t, console, PollerOptions{})

	require.NoError(t, p.Cycle(context.Background()))

	want := []locate.Player{{Name: "foo", Location: locate.Location{Dimension: locate.Overworld, X: 100, Z: 100, Accuracy: 4}}}
	if diff := cmp.Diff(want, p.Snapshot().Players, nearLocation); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCycleAlwaysFalseDropsPlayers(t *testing.T) {
	console := newFakeConsole("player count\nfoo\n", map[string]position{
		"foo": {dim: locate.Overworld, at: locate.Point{X: 1, Z: 1}},
	})
	console.alwaysFalse = true
	p := newTestPoller(t, console, PollerOptions{})

	require.NoError(t, p.Cycle(context.Background()))
	assert.Empty(t, p.Snapshot().Players)
	// 只做了维度探测，没有进入象限搜索
	assert.Equal(t, 2, console.count("execute"))
}

func TestCycleExcludesAnchorsAndIgnored(t *testing.T) {
	console := newFakeConsole("There are 4/10 players online:\now, foo,\nne, afk_bot\n", map[string]position{
		"foo":     {dim: locate.Nether, at: locate.Point{X: -20, Z: 8}},
		"ow":      {dim: locate.Overworld, at: locate.Point{}},
		"ne":      {dim: locate.Nether, at: locate.Point{}},
		"afk_bot": {dim: locate.Overworld, at: locate.Point{X: 5, Z: 5}},
	})
	p := newTestPoller(t, console, PollerOptions{Exclude: []string{"ow", "ne", "afk_bot"}})

	require.NoError(t, p.Cycle(context.Background()))
	snap := p.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "foo", snap.Players[0].Name)
	assert.Equal(t, locate.Nether, snap.Players[0].Location.Dimension)
	for _, name := range []string{"ow", "ne", "afk_bot"} {
		assert.Zero(t, console.count("execute @e[name=ow] ^ ^ ^ testfor @a[name="+name+","))
	}
}

func TestCycleErrorKeepsPreviousSnapshot(t *testing.T) {
	console := newFakeConsole("player count\nfoo\n", map[string]position{
		"foo": {dim: locate.Overworld, at: locate.Point{X: 3, Z: 3}},
	})
	p := newTestPoller(t, console, PollerOptions{})
	require.NoError(t, p.Cycle(context.Background()))
	before := p.Snapshot()

	console.listErrs = 1
	require.Error(t, p.Cycle(context.Background()))
	assert.Equal(t, before, p.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	console := newFakeConsole("player count\nfoo\n", map[string]position{
		"foo": {dim: locate.Overworld, at: locate.Point{X: 50, Z: -50}},
	})
	p := newTestPoller(t, console, PollerOptions{})
	require.NoError(t, p.Cycle(context.Background()))

	snap := p.Snapshot()
	require.Len(t, snap.Players, 1)
	snap.Players[0].Name = "mallory"
	snap.Players = append(snap.Players, locate.Player{Name: "eve"})

	again := p.Snapshot()
	require.Len(t, again.Players, 1)
	assert.Equal(t, "foo", again.Players[0].Name)
}

func TestReuseHintsNeedsFewerProbes(t *testing.T) {
	console := newFakeConsole("player count\nfoo\n", map[string]position{
		"foo": {dim: locate.Overworld, at: locate.Point{X: 640, Z: -320}},
	})
	p := newTestPoller(t, console, PollerOptions{ReuseHints: true})

	require.NoError(t, p.Cycle(context.Background()))
	cold := console.count("execute")
	console.reset()

	console.mu.Lock()
	console.truth["foo"] = position{dim: locate.Overworld, at: locate.Point{X: 642, Z: -321}}
	console.mu.Unlock()
	require.NoError(t, p.Cycle(context.Background()))
	warm := console.count("execute")

	assert.Less(t, warm, cold)
	snap := p.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.InDelta(t, 642, snap.Players[0].Location.X, 2)
}

func TestRunRecoversFromFailedCycle(t *testing.T) {
	console := newFakeConsole("player count\nfoo\n", map[string]position{
		"foo": {dim: locate.Overworld, at: locate.Point{X: 10, Z: 10}},
	})
	console.listErrs = 2
	m := &metrics.Counters{}
	published := make(chan Snapshot, 16)
	p := newTestPoller(t, console, PollerOptions{
		Interval: 5 * time.Millisecond,
		Metrics:  m,
		OnPublish: func(s Snapshot) {
			select {
			case published <- s:
			default:
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case s := <-published:
		require.Len(t, s.Players, 1)
		assert.Equal(t, "foo", s.Players[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot published")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int64(2), m.Snapshot()["poll_failures"])
}

func TestSetInterval(t *testing.T) {
	p := NewPoller(newFakeConsole("", nil), nil, PollerOptions{})
	assert.Equal(t, 500*time.Millisecond, p.Interval())
	require.NoError(t, p.SetInterval(time.Second))
	assert.Equal(t, time.Second, p.Interval())
	require.Error(t, p.SetInterval(0))

	assert.False(t, p.ReuseHints())
	p.SetReuseHints(true)
	assert.True(t, p.ReuseHints())
}

func TestParseRoster(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "header only", in: "There are 0/10 players online:\n", want: nil},
		{name: "single line", in: "player count\nfoo, bar\n", want: []string{"foo", "bar"}},
		{name: "multi line", in: "There are 3/10 players online:\r\nfoo,\r\n bar , baz\r\n", want: []string{"foo", "bar", "baz"}},
		{name: "spaces in names", in: "hdr\nAlex Smith, Steve\n", want: []string{"Alex Smith", "Steve"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRoster(tt.in))
		})
	}
}

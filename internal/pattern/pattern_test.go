package pattern

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolita/rotinas/internal/adapters/realclock"
	"github.com/acolita/rotinas/internal/screen"
	"github.com/acolita/rotinas/internal/testing/fakes/fakeclock"
	"github.com/acolita/rotinas/internal/testing/fakes/fakedialog"
)

func menuScreen() *screen.Snapshot {
	return screen.FromText([]string{
		"SISTEMA DE CADASTRO          ",
		"Opção: ___   Código: _____   ",
		"Situação: ATIVO              ",
		"MANUTENÇÃO DE CLIENTES       ",
	}, screen.Position{Row: 2, Col: 9})
}

func withFields(t *testing.T) *screen.Snapshot {
	t.Helper()
	grid := [][]screen.Cell{
		row("NOME:      CPF:       ", nil),
		row("[.........] [........]", [][2]int{{2, 9}, {13, 8}}),
		row("CIDADE:               ", nil),
		row("   [....]    [......] ", [][2]int{{5, 4}, {15, 6}}),
	}
	return screen.New(grid, screen.Position{Row: 1, Col: 1})
}

func row(s string, fields [][2]int) []screen.Cell {
	var cells []screen.Cell
	for _, r := range s {
		cells = append(cells, screen.Cell{Char: r})
	}
	for _, f := range fields {
		for c := f[0]; c < f[0]+f[1]; c++ {
			cells[c-1].Attr |= screen.AttrUnprotected
		}
	}
	return cells
}

func TestMatch_Literal(t *testing.T) {
	snap := menuScreen()

	tests := []struct {
		name    string
		target  string
		opts    Options
		found   bool
		row     int
		col     int
		matched string
	}{
		{name: "exact", target: "CADASTRO", found: true, row: 1, col: 12, matched: "CADASTRO"},
		{name: "case insensitive by default", target: "cadastro", found: true, row: 1, col: 12, matched: "CADASTRO"},
		{name: "case sensitive miss", target: "cadastro", opts: Options{CaseSensitive: true}},
		{name: "accented", target: "Código", found: true, row: 2, col: 14, matched: "Código"},
		{name: "accents required by default", target: "MANUTENCAO"},
		{name: "ignore accents", target: "manutencao", opts: Options{IgnoreAccents: true}, found: true, row: 4, col: 1, matched: "MANUTENÇÃO"},
		{name: "restricted to line", target: "ATIVO", opts: Options{Area: Line(1)}},
		{name: "found in line", target: "ATIVO", opts: Options{Area: Line(3)}, found: true, row: 3, col: 11, matched: "ATIVO"},
		{name: "block offsets columns", target: "ATIVO", opts: Options{Area: Block(3, 5, 3, 20)}, found: true, row: 3, col: 11, matched: "ATIVO"},
		{name: "outside block", target: "CLIENTES", opts: Options{Area: Block(4, 1, 4, 10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(snap, []Target{Text(tt.target)}, tt.opts)
			if !tt.found {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.row, got.Row)
			assert.Equal(t, tt.col, got.Col)
			assert.Equal(t, tt.matched, got.Text)
		})
	}
}

func TestMatch_AlternativesInDeclaredOrder(t *testing.T) {
	snap := menuScreen()
	got := Match(snap, []Target{Text("INEXISTENTE"), Text("ATIVO"), Text("SISTEMA")}, Options{})

	require.NotNil(t, got)
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, "ATIVO", got.Target)
}

func TestMatch_Regex(t *testing.T) {
	target, err := Regex(`C[oó]digo:\s+_+`)
	require.NoError(t, err)

	got := Match(menuScreen(), []Target{target}, Options{})
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Row)
	assert.Equal(t, 14, got.Col)
	assert.Equal(t, "Código: _____", got.Text)
	assert.Equal(t, 26, got.End())
}

func TestRegex_Invalid(t *testing.T) {
	_, err := Regex("(")
	assert.Error(t, err)
}

func TestLocate_ZeroWaitIsImmediate(t *testing.T) {
	clock := fakeclock.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewLocator(menuScreen, clock)

	got, err := l.Locate(context.Background(), []Target{Text("situação")}, Options{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Row)
	assert.Zero(t, clock.Waiters())
}

func TestLocate_MissWithoutRaise(t *testing.T) {
	l := NewLocator(menuScreen, realclock.New(), WithPollInterval(10*time.Millisecond))

	got, err := l.Locate(context.Background(), []Target{Text("NADA")}, Options{Wait: 50 * time.Millisecond})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocate_MissRaises(t *testing.T) {
	l := NewLocator(menuScreen, realclock.New(), WithPollInterval(10*time.Millisecond))

	_, err := l.Locate(context.Background(), []Target{Text("NADA"), Text("NUNCA")}, Options{RaiseOnMiss: true})
	var notFound *TextNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"NADA", "NUNCA"}, notFound.Targets)
}

func TestLocate_AppearsWhilePolling(t *testing.T) {
	var reads atomic.Int32
	source := func() *screen.Snapshot {
		if reads.Add(1) < 3 {
			return screen.FromText([]string{"AGUARDE"}, screen.Position{})
		}
		return screen.FromText([]string{"PRONTO"}, screen.Position{})
	}
	l := NewLocator(source, realclock.New(), WithPollInterval(5*time.Millisecond))

	got, err := l.Locate(context.Background(), []Target{Text("PRONTO")}, Options{Wait: time.Second})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.GreaterOrEqual(t, reads.Load(), int32(3))
}

func TestLocate_DeadlineIsWallClock(t *testing.T) {
	clock := fakeclock.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var reads atomic.Int32
	source := func() *screen.Snapshot {
		reads.Add(1)
		// A slow read consumes most of the poll budget.
		clock.Set(clock.Now().Add(90 * time.Millisecond))
		return menuScreen()
	}
	l := NewLocator(source, clock)

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, err := l.Locate(context.Background(), []Target{Text("NADA")}, Options{Wait: 300 * time.Millisecond})
		assert.NoError(t, err)
		assert.Nil(t, got)
	}()

	for {
		select {
		case <-done:
			// Two polls plus the final check at the deadline. A retry
			// counter ignoring read time would have made four reads.
			assert.Equal(t, int32(3), reads.Load())
			return
		case <-time.After(time.Millisecond):
			if clock.Waiters() > 0 {
				clock.Advance(100 * time.Millisecond)
			}
		}
	}
}

func TestLocate_Cancelled(t *testing.T) {
	clock := fakeclock.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewLocator(menuScreen, clock)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Locate(ctx, []Target{Text("NADA")}, Options{Wait: time.Hour})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return clock.Waiters() > 0 }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestLocate_GateStopsPolling(t *testing.T) {
	stop := errors.New("stopped")
	l := NewLocator(menuScreen, realclock.New(), WithGate(func(context.Context) error { return stop }))

	_, err := l.Locate(context.Background(), []Target{Text("SISTEMA")}, Options{})
	assert.ErrorIs(t, err, stop)
}

func TestLocate_OnMissAsksToKeepWaiting(t *testing.T) {
	dialog := fakedialog.New()
	dialog.ConfirmAnswers = []bool{true, false}
	l := NewLocator(menuScreen, realclock.New(), WithDialog(dialog), WithPollInterval(5*time.Millisecond))

	got, err := l.Locate(context.Background(), []Target{Text("NADA")}, Options{Wait: 10 * time.Millisecond, OnMiss: "Continuar?"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, []string{"Continuar?", "Continuar?"}, dialog.Confirms())
}

// stoppingDialog cancels the run while the question is open and then
// answers yes.
type stoppingDialog struct {
	*fakedialog.Provider
	cancel context.CancelFunc
}

func (d stoppingDialog) Confirm(string, string) (bool, error) {
	d.cancel()
	return true, nil
}

func TestLocate_OnMissStoppedWhileAsking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dialog := stoppingDialog{Provider: fakedialog.New(), cancel: cancel}
	l := NewLocator(menuScreen, realclock.New(), WithDialog(dialog), WithPollInterval(5*time.Millisecond))

	got, err := l.Locate(ctx, []Target{Text("NADA")}, Options{Wait: 10 * time.Millisecond, OnMiss: "Continuar?"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
}

func TestLocate_Observer(t *testing.T) {
	var outcomes []bool
	l := NewLocator(menuScreen, realclock.New(), WithObserver(func(_ time.Duration, found bool) {
		outcomes = append(outcomes, found)
	}))

	_, _ = l.Locate(context.Background(), []Target{Text("SISTEMA")}, Options{})
	_, _ = l.Locate(context.Background(), []Target{Text("NADA")}, Options{})
	assert.Equal(t, []bool{true, false}, outcomes)
}

func TestPositionNear(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		opts    Options
		wantRow int
		wantCol int
		none    bool
	}{
		{name: "after continues in reading order", label: "CPF", wantRow: 2, wantCol: 2},
		{name: "below prefers aligned field", label: "CPF", opts: Options{Direction: Below}, wantRow: 2, wantCol: 13},
		{name: "below nearest row", label: "NOME", opts: Options{Direction: Below}, wantRow: 2, wantCol: 2},
		{name: "above", label: "CIDADE", opts: Options{Direction: Above}, wantRow: 2, wantCol: 2},
		{name: "before", label: "CIDADE", opts: Options{Direction: Before}, wantRow: 2, wantCol: 13},
		{name: "offset skips fields", label: "NOME", opts: Options{Offset: 2}, wantRow: 4, wantCol: 5},
		{name: "offset past the end", label: "NOME", opts: Options{Offset: 9}, none: true},
		{name: "nothing above first row", label: "NOME", opts: Options{Direction: Above}, none: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := withFields(t)
			l := NewLocator(func() *screen.Snapshot { return snap }, realclock.New())

			field, err := l.PositionNear(context.Background(), Text(tt.label), tt.opts)
			require.NoError(t, err)
			if tt.none {
				assert.Nil(t, field)
				return
			}
			require.NotNil(t, field)
			assert.Equal(t, tt.wantRow, field.Row)
			assert.Equal(t, tt.wantCol, field.Col)
		})
	}
}

func TestPositionNear_LabelMissing(t *testing.T) {
	snap := withFields(t)
	l := NewLocator(func() *screen.Snapshot { return snap }, realclock.New())

	field, err := l.PositionNear(context.Background(), Text("ENDEREÇO"), Options{})
	assert.NoError(t, err)
	assert.Nil(t, field)

	_, err = l.PositionNear(context.Background(), Text("ENDEREÇO"), Options{RaiseOnMiss: true})
	var missing *LabelNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.False(t, missing.NoField)
}

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{
		"":       After,
		"depois": After,
		"ABAIXO": Below,
		"above":  Above,
		"antes":  Before,
	}
	for in, want := range tests {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDirection("diagonal")
	assert.Error(t, err)
}

package commands

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolita/rotinas/internal/adapters/realclock"
	"github.com/acolita/rotinas/internal/pattern"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/rotina"
	"github.com/acolita/rotinas/internal/testing/fakes/fakedialog"
	"github.com/acolita/rotinas/internal/testing/fakes/fakefs"
	"github.com/acolita/rotinas/internal/testing/fakes/faketerminal"
)

type memClipboard struct{ text string }

func (c *memClipboard) ReadAll() (string, error)   { return c.text, nil }
func (c *memClipboard) WriteAll(text string) error { c.text = text; return nil }

type gateFunc func(context.Context) error

func (g gateFunc) Checkpoint(ctx context.Context) error { return g(ctx) }

type runnerFunc func(context.Context, string) error

func (r runnerFunc) ExecuteNested(ctx context.Context, path string) error { return r(ctx, path) }

type failureFunc func(context.Context, string, error) error

func (f failureFunc) RecoverFailure(ctx context.Context, path string, err error) error {
	return f(ctx, path, err)
}

type fixture struct {
	term   *faketerminal.Terminal
	dialog *fakedialog.Provider
	files  *fakefs.FS
	clip   *memClipboard
}

func newSurface(t *testing.T, opts ...Option) (*Surface, *fixture) {
	t.Helper()
	f := &fixture{
		term:   faketerminal.New(),
		dialog: fakedialog.New(),
		files:  fakefs.New(),
		clip:   &memClipboard{},
	}
	deps := Deps{Terminal: f.term, Clock: realclock.New(), Dialog: f.dialog, Files: f.files}
	base := []Option{
		WithClipboard(f.clip),
		WithWorkspace("/work"),
		WithPollInterval(5 * time.Millisecond),
		WithVerifyTimeout(30 * time.Millisecond),
	}
	return New(context.Background(), "teste.rotina", deps, append(base, opts...)...), f
}

func panicValue(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

func TestTeclar(t *testing.T) {
	s, f := newSurface(t)

	assert.True(t, s.Teclar("enter"))
	assert.True(t, s.Teclar("PF3"))
	assert.False(t, s.Teclar("PF99"))

	assert.Equal(t, []string{"\r", "\x1bOR"}, f.term.Writes())
	notes := f.dialog.Notifications()
	require.Len(t, notes, 1)
	assert.False(t, notes[0].OK)
	assert.Contains(t, notes[0].Message, "PF99")
}

func TestKeyThenTextAreTwoOrderedWrites(t *testing.T) {
	s, f := newSurface(t)

	s.Teclar("ENTER")
	s.Digitar("OK", false)

	assert.Equal(t, []string{"\r", "OK"}, f.term.Writes())
}

func TestDigitar_Verification(t *testing.T) {
	t.Run("echoed", func(t *testing.T) {
		s, f := newSurface(t)
		f.term.SetCursor(3, 10).SetEcho(true)

		assert.True(t, s.Digitar("abc"))
		assert.Empty(t, f.dialog.Notifications())
	})

	t.Run("not echoed", func(t *testing.T) {
		s, f := newSurface(t)
		f.term.SetCursor(3, 10)

		assert.False(t, s.Digitar("senha"))
		require.Len(t, f.dialog.Notifications(), 1)
		assert.Equal(t, []string{"senha"}, f.term.Writes())
	})

	t.Run("verification disabled", func(t *testing.T) {
		s, f := newSurface(t)

		assert.True(t, s.Digitar("senha", false))
		assert.Empty(t, f.dialog.Notifications())
	})

	t.Run("empty text", func(t *testing.T) {
		s, f := newSurface(t)

		assert.True(t, s.Digitar(""))
		assert.Empty(t, f.term.Writes())
	})
}

func TestDigitar_WriteFailure(t *testing.T) {
	s, f := newSurface(t)
	f.term.WriteErr = errors.New("closed")

	assert.False(t, s.Digitar("x", false))
	assert.Len(t, f.dialog.Notifications(), 1)
}

func TestClicar(t *testing.T) {
	s, f := newSurface(t)

	assert.True(t, s.Clicar(4, 20))
	assert.Equal(t, []string{"\x1b[<0;20;4M\x1b[<0;20;4m"}, f.term.Writes())
}

func TestLocalizarTexto(t *testing.T) {
	s, f := newSurface(t)
	f.term.SetScreen("MENU PRINCIPAL", "", "OPCAO: 01 CONSULTA")

	res := s.LocalizarTexto("consulta")
	require.NotNil(t, res)
	assert.Equal(t, rotina.Resultado{Texto: "CONSULTA", Linha: 3, Coluna: 11, Indice: 0}, *res)

	res = s.LocalizarTexto([]string{"ERRO", "MENU"})
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Indice)

	res = s.LocalizarTexto([]any{"ERRO", rotina.Padrao{Expr: `OPCAO: \d+`}})
	require.NotNil(t, res)
	assert.Equal(t, "OPCAO: 01", res.Texto)

	assert.Nil(t, s.LocalizarTexto("AUSENTE"))
	assert.Empty(t, f.dialog.Notifications())
}

func TestLocalizarTexto_InvalidTarget(t *testing.T) {
	s, _ := newSurface(t)

	v := panicValue(func() { s.LocalizarTexto(42) })
	err, ok := v.(error)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "alvo inválido")
}

func TestLocalizarTexto_RaiseOnMiss(t *testing.T) {
	opt := func(o *pattern.Options) { o.RaiseOnMiss = true }

	t.Run("raises without handler", func(t *testing.T) {
		s, _ := newSurface(t)

		v := panicValue(func() { s.LocalizarTexto("AUSENTE", opt) })
		err, ok := v.(error)
		require.True(t, ok)
		var notFound *pattern.TextNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("handler swallows", func(t *testing.T) {
		var handled error
		s, _ := newSurface(t, WithFailureHandler(failureFunc(func(_ context.Context, path string, err error) error {
			handled = err
			assert.Equal(t, "teste.rotina", path)
			return nil
		})))

		var res *rotina.Resultado
		assert.Nil(t, panicValue(func() { res = s.LocalizarTexto("AUSENTE", opt) }))
		assert.Nil(t, res)
		assert.Error(t, handled)
	})

	t.Run("handler stops", func(t *testing.T) {
		s, _ := newSurface(t, WithFailureHandler(failureFunc(func(context.Context, string, error) error {
			return rotina.ErrUserCancelled
		})))

		v := panicValue(func() { s.LocalizarTexto("AUSENTE", opt) })
		assert.Equal(t, rotina.ErrUserCancelled, v)
	})
}

func TestLocalizarTexto_DefaultMissPrompt(t *testing.T) {
	s, f := newSurface(t)
	f.dialog.ConfirmDefault = false

	assert.Nil(t, s.LocalizarTexto("AUSENTE", rotina.Opcao(func(o *pattern.Options) { o.OnMiss = rotina.DefaultMissPrompt })))
	confirms := f.dialog.Confirms()
	require.Len(t, confirms, 1)
	assert.Contains(t, confirms[0], "AUSENTE")
}

func TestPosicionar(t *testing.T) {
	s, f := newSurface(t)
	f.term.SetScreen("NOME: ______ CPF: ___________").MarkField(1, 7, 6).MarkField(1, 19, 11)

	assert.True(t, s.Posicionar("CPF"))
	assert.Equal(t, []string{"\x1b[<0;19;1M\x1b[<0;19;1m"}, f.term.Writes())

	assert.False(t, s.Posicionar("ENDERECO"))
	assert.Len(t, f.dialog.Notifications(), 1)
}

func TestObterTexto(t *testing.T) {
	s, f := newSurface(t)
	f.term.SetScreen("LINHA UM", "LINHA DOIS")

	assert.Equal(t, "LINHA DOIS", s.ObterTexto(2)[:10])
	assert.Equal(t, "DOIS", s.ObterTexto(2, 7, 4))
	assert.Equal(t, "UM\nDO", s.ObterTexto(1, 7, 2, 8))
	assert.Contains(t, s.ObterTexto(), "LINHA UM")

	v := panicValue(func() { s.ObterTexto(1, 2) })
	assert.NotNil(t, v)
}

func TestLerTelaAndCursor(t *testing.T) {
	s, f := newSurface(t)
	f.term.SetScreen("A", "B").SetCursor(2, 5)

	lines := s.LerTela()
	assert.Equal(t, "A", lines[0])
	assert.Equal(t, "B", lines[1])

	row, col := s.PosicaoCursor()
	assert.Equal(t, 2, row)
	assert.Equal(t, 5, col)
}

func TestCopiarColar(t *testing.T) {
	s, f := newSurface(t)
	f.term.SetScreen("PROTOCOLO 12345")

	assert.Equal(t, "12345", s.Copiar(1, 11, 5))
	assert.Equal(t, "12345", f.clip.text)

	assert.True(t, s.Colar())
	assert.Equal(t, []string{"12345"}, f.term.Writes())
}

type brokenClipboard struct{}

func (brokenClipboard) ReadAll() (string, error) { return "", errors.New("sem área de transferência") }
func (brokenClipboard) WriteAll(string) error    { return errors.New("sem área de transferência") }

func TestCopiarColar_ClipboardFailure(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s, f := newSurface(t, WithClipboard(brokenClipboard{}))
	f.term.SetScreen("PROTOCOLO 12345")

	assert.Equal(t, "12345", s.Copiar(1, 11, 5))
	assert.Contains(t, logs.String(), "clipboard write failed")
	assert.Contains(t, logs.String(), "level=DEBUG")

	assert.True(t, s.Colar(), "the run keeps its own copy")
	assert.Equal(t, []string{"12345"}, f.term.Writes())
	assert.Empty(t, f.dialog.Notifications())
}

func TestColar_Empty(t *testing.T) {
	s, f := newSurface(t)

	assert.False(t, s.Colar())
	assert.Empty(t, f.term.Writes())
	assert.Len(t, f.dialog.Notifications(), 1)
}

func TestFiles(t *testing.T) {
	s, f := newSurface(t)

	assert.True(t, s.CriarArquivo("saida/relatorio.txt", "a\n"))
	assert.True(t, s.AnexarNoArquivo("saida/relatorio.txt", "b\n"))
	assert.Equal(t, "a\nb\n", s.LerArquivo("saida/relatorio.txt"))

	data, err := f.files.ReadFile("/work/saida/relatorio.txt")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))

	assert.True(t, s.ExcluirArquivo("saida/relatorio.txt"))
	assert.Equal(t, "", s.LerArquivo("saida/relatorio.txt"))
	assert.Len(t, f.dialog.Notifications(), 1)
}

func TestFiles_OutsideWorkspace(t *testing.T) {
	s, f := newSurface(t)

	assert.False(t, s.CriarArquivo("../etc/passwd", "x"))
	assert.False(t, s.CriarArquivo("/etc/passwd", "x"))
	assert.Equal(t, "", s.LerArquivo("../../segredo"))
	assert.Empty(t, f.files.Files())
	assert.Len(t, f.dialog.Notifications(), 3)
}

func TestFiles_Failure(t *testing.T) {
	s, f := newSurface(t)
	f.files.FailOn("/work/bloqueado.txt", fs.ErrPermission)

	assert.False(t, s.CriarArquivo("bloqueado.txt", "x"))
	assert.False(t, s.AnexarNoArquivo("bloqueado.txt", "x"))
	notes := f.dialog.Notifications()
	require.Len(t, notes, 2)
	assert.False(t, notes[0].OK)
}

func TestProcessarLinhas(t *testing.T) {
	s, f := newSurface(t)
	f.files.AddFile("/work/codigos.txt", []byte("111\r\n\n222\n  \n333"), 0o644)

	var got []string
	var numbers []int
	ok := s.ProcessarLinhas("codigos.txt", func(linha string, numero int) {
		got = append(got, linha)
		numbers = append(numbers, numero)
		s.Digitar(linha, false)
	})

	require.True(t, ok)
	assert.Equal(t, []string{"111", "222", "333"}, got)
	assert.Equal(t, []int{1, 3, 5}, numbers)
	assert.Equal(t, []string{"111", "222", "333"}, f.term.Writes())
}

func TestProcessarLinhas_MissingFile(t *testing.T) {
	s, f := newSurface(t)

	called := false
	assert.False(t, s.ProcessarLinhas("nada.txt", func(string, int) { called = true }))
	assert.False(t, called)
	assert.Len(t, f.dialog.Notifications(), 1)
}

func TestCriarModal(t *testing.T) {
	s, f := newSurface(t)
	f.dialog.FormResult = map[string]string{"Nome": "Ana", "Cidade": "Recife"}

	got := s.CriarModal("Cadastro", "Nome", "Cidade=Recife", " ")
	assert.Equal(t, map[string]string{"Nome": "Ana", "Cidade": "Recife"}, got)

	forms := f.dialog.Forms()
	require.Len(t, forms, 1)
	assert.Equal(t, []ports.FormField{
		{Name: "Nome", Label: "Nome"},
		{Name: "Cidade", Label: "Cidade", Default: "Recife"},
	}, forms[0])
}

func TestCriarModal_Cancelled(t *testing.T) {
	s, _ := newSurface(t)
	assert.Nil(t, s.CriarModal("Cadastro", "Nome"))
}

func TestConfirmarAndNotificacao(t *testing.T) {
	s, f := newSurface(t)
	f.dialog.ConfirmAnswers = []bool{true}

	assert.True(t, s.Confirmar("Prosseguir?"))
	s.ExibirNotificacao("Concluído", true, 0)

	notes := f.dialog.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, defaultNotification, notes[0].Duration)
	assert.True(t, notes[0].OK)
}

func TestExecutarRotina(t *testing.T) {
	failure := errors.New("falhou")

	tests := []struct {
		name      string
		nestedErr error
		want      bool
		panics    any
	}{
		{name: "success", want: true},
		{name: "not found", nestedErr: ports.ErrScriptNotFound, want: false},
		{name: "failure raises", nestedErr: failure, panics: failure},
		{name: "cancelled", nestedErr: rotina.ErrUserCancelled, panics: rotina.ErrUserCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called string
			s, _ := newSurface(t, WithRunner(runnerFunc(func(_ context.Context, path string) error {
				called = path
				return tt.nestedErr
			})))

			var got bool
			v := panicValue(func() { got = s.ExecutarRotina("sub.rotina") })
			assert.Equal(t, "sub.rotina", called)
			assert.Equal(t, tt.panics, v)
			if tt.panics == nil {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGateBlocksPrimitives(t *testing.T) {
	s, f := newSurface(t, WithGate(gateFunc(func(context.Context) error {
		return rotina.ErrUserCancelled
	})))

	assert.Equal(t, rotina.ErrUserCancelled, panicValue(func() { s.Teclar("ENTER") }))
	assert.Empty(t, f.term.Writes())
}

func TestCancelledContextWithoutGate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term := faketerminal.New()
	s := New(ctx, "x.rotina", Deps{Terminal: term, Clock: realclock.New(), Dialog: fakedialog.New(), Files: fakefs.New()})

	assert.Equal(t, rotina.ErrUserCancelled, panicValue(func() { s.Esperar(10) }))
}

func TestVelocidadeDelaysInput(t *testing.T) {
	s, _ := newSurface(t)
	s.Velocidade(0.05)

	start := time.Now()
	s.Teclar("TAB")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

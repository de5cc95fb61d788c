// Package rotina compiles user scripts into runnable units bound to a
// command surface.
//
// Scripts are Go statements. The body is wrapped in a function and
// interpreted by yaegi with only the primitive vocabulary and a few pure
// standard packages in scope. Every primitive is a blocking call, so each
// call is a suspension point where pause and stop requests are honoured.
package rotina

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/acolita/rotinas/internal/pattern"
)

// Surface is the set of operations a script can perform. The command
// surface implements it; each method may block.
type Surface interface {
	Teclar(nome string) bool
	Digitar(texto string, verificar ...bool) bool
	Clicar(linha, coluna int) bool
	Esperar(segundos ...float64)
	LocalizarTexto(alvo any, opcoes ...Opcao) *Resultado
	Posicionar(rotulo string, opcoes ...Opcao) bool
	ObterTexto(coords ...int) string
	Copiar(coords ...int) string
	Colar() bool
	LerTela() []string
	PosicaoCursor() (int, int)
	CriarArquivo(caminho, conteudo string) bool
	LerArquivo(caminho string) string
	AnexarNoArquivo(caminho, conteudo string) bool
	ExcluirArquivo(caminho string) bool
	ProcessarLinhas(arquivo string, fn func(linha string, numero int)) bool
	CriarModal(titulo string, campos ...string) map[string]string
	Confirmar(mensagem string) bool
	ExecutarRotina(caminho string) bool
	ExibirNotificacao(mensagem string, ok bool, segundos float64)
	Velocidade(segundos float64)
}

const (
	apiImport = "rotinas/api"
	entry     = "Executar"
)

var allowedStdlib = []string{
	"strings/strings",
	"strconv/strconv",
	"math/math",
	"unicode/utf8/utf8",
}

var errUnbound = errors.New("rotina executada sem superfície de comandos")

// Unit is a compiled script. A unit may run several times but only one
// run at a time.
type Unit struct {
	Path string

	fn      func()
	binding *binding
	mu      sync.Mutex
}

type binding struct {
	mu      sync.RWMutex
	surface Surface
}

func (b *binding) get() Surface {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.surface == nil {
		panic(errUnbound)
	}
	return b.surface
}

func (b *binding) set(s Surface) {
	b.mu.Lock()
	b.surface = s
	b.mu.Unlock()
}

// Compile normalizes src and builds a unit from it. Any failure is
// returned as *SyntaxError with line numbers relative to src.
func Compile(path, src string) (*Unit, error) {
	b := &binding{}
	program, offset := wrap(Normalize(src))

	i := interp.New(interp.Options{
		Stdout: &outputWriter{path: path},
		Stderr: io.Discard,
	})
	if err := i.Use(restrictedStdlib()); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(exports(b)); err != nil {
		return nil, fmt.Errorf("load primitives: %w", err)
	}

	if _, err := evalSafely(i, program); err != nil {
		return nil, syntaxError(path, err, offset)
	}
	v, err := evalSafely(i, entry)
	if err != nil {
		return nil, syntaxError(path, err, offset)
	}
	fn, ok := v.Interface().(func())
	if !ok {
		return nil, &SyntaxError{Path: path, Msg: "ponto de entrada inválido"}
	}

	slog.Debug("rotina compiled", slog.String("path", path), slog.Int("version", PrimitivesVersion))
	return &Unit{Path: path, fn: fn, binding: b}, nil
}

// Run binds surface and executes the unit. Errors raised inside the
// script are returned: ErrUserCancelled and typed primitive errors as is,
// anything else wrapped in *ScriptError.
func (u *Unit) Run(surface Surface) (err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.binding.set(surface)
	defer u.binding.set(nil)

	defer func() {
		if r := recover(); r != nil {
			err = classify(u.Path, r)
		}
	}()
	u.fn()
	return nil
}

func classify(path string, r any) error {
	e, ok := r.(error)
	if !ok {
		return &ScriptError{Path: path, Err: fmt.Errorf("%v", r)}
	}
	var (
		syntax   *SyntaxError
		script   *ScriptError
		notFound *pattern.TextNotFoundError
		label    *pattern.LabelNotFoundError
	)
	switch {
	case errors.Is(e, ErrUserCancelled),
		errors.As(e, &syntax),
		errors.As(e, &script),
		errors.As(e, &notFound),
		errors.As(e, &label):
		return e
	}
	return &ScriptError{Path: path, Err: e}
}

// evalSafely turns interpreter panics on malformed input into errors.
func evalSafely(i *interp.Interpreter, src string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return i.Eval(src)
}

// wrap builds the program around body and returns how many lines precede
// the body.
func wrap(body string) (string, int) {
	var b strings.Builder
	b.WriteString("package main\n\n")
	b.WriteString("import (\n")
	b.WriteString("\tapi \"" + apiImport + "\"\n")
	b.WriteString("\t\"math\"\n\t\"strconv\"\n\t\"strings\"\n\t\"unicode/utf8\"\n")
	b.WriteString(")\n\n")
	b.WriteString("var (\n")
	b.WriteString("\t_ = math.Abs\n\t_ = strconv.Itoa\n\t_ = strings.TrimSpace\n\t_ = utf8.RuneLen\n")
	for _, name := range append(append([]string{}, Primitives...), Helpers...) {
		b.WriteString("\t" + name + " = api." + exported(name) + "\n")
	}
	b.WriteString(")\n\n")
	b.WriteString("func " + entry + "() {\n")
	offset := strings.Count(b.String(), "\n")
	b.WriteString(body)
	b.WriteString("\n}\n")
	return b.String(), offset
}

func exported(name string) string {
	return strings.ToUpper(name[:1]) + name[1:]
}

var positionRe = regexp.MustCompile(`(\d+):(\d+)`)

func syntaxError(path string, err error, offset int) *SyntaxError {
	msg := err.Error()
	line := 0
	if m := positionRe.FindStringSubmatchIndex(msg); m != nil {
		n, _ := strconv.Atoi(msg[m[2]:m[3]])
		if n > offset {
			line = n - offset
		}
		msg = strings.TrimLeft(msg[m[1]:], ": ")
	}
	return &SyntaxError{Path: path, Line: line, Msg: msg}
}

func restrictedStdlib() interp.Exports {
	restricted := interp.Exports{}
	for _, key := range allowedStdlib {
		if syms, ok := stdlib.Symbols[key]; ok {
			restricted[key] = syms
		}
	}
	return restricted
}

// exports binds every primitive to the unit's binding so the surface can
// be attached after compilation.
func exports(b *binding) interp.Exports {
	return interp.Exports{
		apiImport + "/api": {
			"Teclar":  reflect.ValueOf(func(nome string) bool { return b.get().Teclar(nome) }),
			"Digitar": reflect.ValueOf(func(texto string, verificar ...bool) bool { return b.get().Digitar(texto, verificar...) }),
			"Clicar":  reflect.ValueOf(func(linha, coluna int) bool { return b.get().Clicar(linha, coluna) }),
			"Esperar": reflect.ValueOf(func(segundos ...float64) { b.get().Esperar(segundos...) }),
			"LocalizarTexto": reflect.ValueOf(func(alvo any, opcoes ...Opcao) *Resultado {
				return b.get().LocalizarTexto(alvo, opcoes...)
			}),
			"Posicionar": reflect.ValueOf(func(rotulo string, opcoes ...Opcao) bool {
				return b.get().Posicionar(rotulo, opcoes...)
			}),
			"ObterTexto":    reflect.ValueOf(func(coords ...int) string { return b.get().ObterTexto(coords...) }),
			"Copiar":        reflect.ValueOf(func(coords ...int) string { return b.get().Copiar(coords...) }),
			"Colar":         reflect.ValueOf(func() bool { return b.get().Colar() }),
			"LerTela":       reflect.ValueOf(func() []string { return b.get().LerTela() }),
			"PosicaoCursor": reflect.ValueOf(func() (int, int) { return b.get().PosicaoCursor() }),
			"CriarArquivo": reflect.ValueOf(func(caminho, conteudo string) bool {
				return b.get().CriarArquivo(caminho, conteudo)
			}),
			"LerArquivo": reflect.ValueOf(func(caminho string) string { return b.get().LerArquivo(caminho) }),
			"AnexarNoArquivo": reflect.ValueOf(func(caminho, conteudo string) bool {
				return b.get().AnexarNoArquivo(caminho, conteudo)
			}),
			"ExcluirArquivo": reflect.ValueOf(func(caminho string) bool { return b.get().ExcluirArquivo(caminho) }),
			"ProcessarLinhas": reflect.ValueOf(func(arquivo string, fn func(linha string, numero int)) bool {
				return b.get().ProcessarLinhas(arquivo, fn)
			}),
			"CriarModal": reflect.ValueOf(func(titulo string, campos ...string) map[string]string {
				return b.get().CriarModal(titulo, campos...)
			}),
			"Confirmar":      reflect.ValueOf(func(mensagem string) bool { return b.get().Confirmar(mensagem) }),
			"ExecutarRotina": reflect.ValueOf(func(caminho string) bool { return b.get().ExecutarRotina(caminho) }),
			"ExibirNotificacao": reflect.ValueOf(func(mensagem string, ok bool, segundos float64) {
				b.get().ExibirNotificacao(mensagem, ok, segundos)
			}),
			"Velocidade": reflect.ValueOf(func(segundos float64) { b.get().Velocidade(segundos) }),

			"AutoExecutar":          reflect.ValueOf(autoExecutar),
			"ComTempo":              reflect.ValueOf(comTempo),
			"LancarErro":            reflect.ValueOf(lancarErro),
			"DiferenciarMaiusculas": reflect.ValueOf(diferenciarMaiusculas),
			"IgnorarAcentos":        reflect.ValueOf(ignorarAcentos),
			"NaLinha":               reflect.ValueOf(naLinha),
			"NoBloco":               reflect.ValueOf(noBloco),
			"ComDialogo":            reflect.ValueOf(comDialogo),
			"NaDirecao":             reflect.ValueOf(naDirecao),
			"PularCampos":           reflect.ValueOf(pularCampos),
			"Regex":                 reflect.ValueOf(regex),
			"Qualquer":              reflect.ValueOf(qualquer),

			"Opcao":     reflect.ValueOf((*Opcao)(nil)),
			"Padrao":    reflect.ValueOf((*Padrao)(nil)),
			"Resultado": reflect.ValueOf((*Resultado)(nil)),
		},
	}
}

// outputWriter sends anything a script prints to the log.
type outputWriter struct {
	path string
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimRight(string(p), "\n"); msg != "" {
		slog.Info("rotina output", slog.String("path", w.path), slog.String("text", msg))
	}
	return len(p), nil
}

package rotina

import (
	"regexp"
	"strings"

	"github.com/acolita/rotinas/internal/pattern"
)

// PrimitivesVersion changes whenever the vocabulary below changes.
const PrimitivesVersion = 3

// Primitives are the suspending operations bound into every script.
var Primitives = []string{
	"teclar",
	"digitar",
	"clicar",
	"esperar",
	"localizarTexto",
	"posicionar",
	"obterTexto",
	"copiar",
	"colar",
	"lerTela",
	"posicaoCursor",
	"criarArquivo",
	"lerArquivo",
	"anexarNoArquivo",
	"excluirArquivo",
	"processarLinhas",
	"criarModal",
	"confirmar",
	"executarRotina",
	"exibirNotificacao",
	"velocidade",
}

// Helpers are pure constructors and markers; they never suspend.
var Helpers = []string{
	"autoExecutar",
	"comTempo",
	"lancarErro",
	"diferenciarMaiusculas",
	"ignorarAcentos",
	"naLinha",
	"noBloco",
	"comDialogo",
	"naDirecao",
	"pularCampos",
	"regex",
	"qualquer",
}

// Opcao adjusts how a search behaves.
type Opcao func(*pattern.Options)

// Padrao is a regular expression target.
type Padrao struct {
	Expr string
}

// Resultado describes text found on the screen.
type Resultado struct {
	Texto  string
	Linha  int
	Coluna int
	Indice int
}

// DefaultMissPrompt marks comDialogo called without a message; the command
// surface replaces it with a question naming the missing text.
const DefaultMissPrompt = "\x00"

func comTempo(segundos float64) Opcao {
	return func(o *pattern.Options) { o.Wait = Seconds(segundos) }
}

func lancarErro() Opcao {
	return func(o *pattern.Options) { o.RaiseOnMiss = true }
}

func diferenciarMaiusculas() Opcao {
	return func(o *pattern.Options) { o.CaseSensitive = true }
}

func ignorarAcentos() Opcao {
	return func(o *pattern.Options) { o.IgnoreAccents = true }
}

func naLinha(linha int) Opcao {
	return func(o *pattern.Options) { o.Area = pattern.Line(linha) }
}

func noBloco(l1, c1, l2, c2 int) Opcao {
	return func(o *pattern.Options) { o.Area = pattern.Block(l1, c1, l2, c2) }
}

func comDialogo(mensagem ...string) Opcao {
	msg := strings.TrimSpace(strings.Join(mensagem, " "))
	if msg == "" {
		msg = DefaultMissPrompt
	}
	return func(o *pattern.Options) { o.OnMiss = msg }
}

func naDirecao(direcao string) Opcao {
	dir, err := pattern.ParseDirection(direcao)
	if err != nil {
		panic(err)
	}
	return func(o *pattern.Options) { o.Direction = dir }
}

func pularCampos(n int) Opcao {
	return func(o *pattern.Options) { o.Offset = n }
}

func regex(expr string) Padrao {
	if _, err := regexp.Compile(expr); err != nil {
		panic(err)
	}
	return Padrao{Expr: expr}
}

func qualquer(alvos ...any) []any {
	return alvos
}

func autoExecutar(string, ...string) {}

// ApplyOptions folds opts over base.
func ApplyOptions(base pattern.Options, opts ...Opcao) pattern.Options {
	for _, opt := range opts {
		if opt != nil {
			opt(&base)
		}
	}
	return base
}

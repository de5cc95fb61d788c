package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/acolita/rotinas/internal/pattern"
	"github.com/acolita/rotinas/internal/rotina"
)

// LocalizarTexto waits for any of the alternatives in alvo and returns
// where it was found, or nil.
func (s *Surface) LocalizarTexto(alvo any, opcoes ...rotina.Opcao) *rotina.Resultado {
	s.enter("localizarTexto")
	targets, err := toTargets(alvo)
	if err != nil {
		panic(fmt.Errorf("localizarTexto: %w", err))
	}
	opts := s.searchOptions(targets, opcoes)

	res, err := s.locator.Locate(s.ctx, targets, opts)
	if err != nil {
		s.abortOn(err)
		var notFound *pattern.TextNotFoundError
		if errors.As(err, &notFound) {
			s.raise(err)
			return nil
		}
		s.notify(false, "Falha ao procurar texto: %v", err)
		return nil
	}
	if res == nil {
		return nil
	}
	return &rotina.Resultado{Texto: res.Text, Linha: res.Row, Coluna: res.Col, Indice: res.Index}
}

// Posicionar moves the cursor to the field nearest to a label.
func (s *Surface) Posicionar(rotulo string, opcoes ...rotina.Opcao) bool {
	s.enter("posicionar")
	targets := []pattern.Target{pattern.Text(rotulo)}
	opts := s.searchOptions(targets, opcoes)

	field, err := s.locator.PositionNear(s.ctx, targets[0], opts)
	if err != nil {
		s.abortOn(err)
		var missing *pattern.LabelNotFoundError
		if errors.As(err, &missing) {
			s.raise(err)
			return false
		}
		s.notify(false, "Falha ao posicionar em %q: %v", rotulo, err)
		return false
	}
	if field == nil {
		s.notify(false, "Campo não encontrado para o rótulo %q", rotulo)
		return false
	}
	if !s.write(s.deps.Codec.Click(field.Row, field.Col)) {
		return false
	}
	s.pace()
	return true
}

func (s *Surface) searchOptions(targets []pattern.Target, opcoes []rotina.Opcao) pattern.Options {
	opts := rotina.ApplyOptions(pattern.Options{}, opcoes...)
	if opts.OnMiss == rotina.DefaultMissPrompt {
		names := make([]string, len(targets))
		for i, t := range targets {
			names[i] = t.String()
		}
		opts.OnMiss = fmt.Sprintf("%q não apareceu na tela. Continuar aguardando?", strings.Join(names, " | "))
	}
	return opts
}

// toTargets accepts a string, a regex, or a list of either.
func toTargets(alvo any) ([]pattern.Target, error) {
	switch v := alvo.(type) {
	case string:
		return []pattern.Target{pattern.Text(v)}, nil
	case rotina.Padrao:
		t, err := pattern.Regex(v.Expr)
		if err != nil {
			return nil, err
		}
		return []pattern.Target{t}, nil
	case []string:
		targets := make([]pattern.Target, len(v))
		for i, s := range v {
			targets[i] = pattern.Text(s)
		}
		return targets, nil
	case []any:
		var targets []pattern.Target
		for _, item := range v {
			more, err := toTargets(item)
			if err != nil {
				return nil, err
			}
			targets = append(targets, more...)
		}
		return targets, nil
	}
	return nil, fmt.Errorf("alvo inválido do tipo %T", alvo)
}

// ObterTexto reads the screen: everything, one line (linha), a span
// (linha, coluna, tamanho) or a block (linha1, coluna1, linha2, coluna2).
func (s *Surface) ObterTexto(coords ...int) string {
	s.enter("obterTexto")
	return s.read("obterTexto", coords)
}

func (s *Surface) read(name string, coords []int) string {
	snap := s.deps.Terminal.Snapshot()
	switch len(coords) {
	case 0:
		return snap.Text()
	case 1:
		return snap.Line(coords[0])
	case 3:
		return snap.Substring(coords[0], coords[1], coords[2])
	case 4:
		return snap.Block(coords[0], coords[1], coords[2], coords[3])
	}
	panic(fmt.Errorf("%s: esperado 0, 1, 3 ou 4 coordenadas, recebido %d", name, len(coords)))
}

// LerTela returns the screen lines without trailing blanks.
func (s *Surface) LerTela() []string {
	s.enter("lerTela")
	lines := s.deps.Terminal.Snapshot().Lines()
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return lines
}

// PosicaoCursor returns the cursor row and column.
func (s *Surface) PosicaoCursor() (int, int) {
	s.enter("posicaoCursor")
	p := s.deps.Terminal.CursorPosition()
	return p.Row, p.Col
}

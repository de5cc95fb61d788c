package commands

import (
	"strings"
	"unicode/utf8"

	"github.com/acolita/rotinas/internal/rotina"
)

// Teclar sends a named key.
func (s *Surface) Teclar(nome string) bool {
	s.enter("teclar")
	seq, ok := s.deps.Codec.Sequence(nome)
	if !ok {
		s.notify(false, "Tecla desconhecida: %s", nome)
		return false
	}
	if !s.write(seq) {
		return false
	}
	s.pace()
	return true
}

// Digitar types text at the cursor. Unless verificar is false, it waits
// for the text to appear where the cursor was.
func (s *Surface) Digitar(texto string, verificar ...bool) bool {
	s.enter("digitar")
	if texto == "" {
		return true
	}
	verify := true
	if len(verificar) > 0 {
		verify = verificar[0]
	}

	start := s.deps.Terminal.CursorPosition()
	if !s.write([]byte(texto)) {
		return false
	}
	if verify && !s.echoed(start.Row, start.Col, texto) {
		s.notify(false, "O texto digitado não apareceu na tela: %q", texto)
		return false
	}
	s.pace()
	return true
}

func (s *Surface) echoed(row, col int, texto string) bool {
	n := utf8.RuneCountInString(texto)
	deadline := s.deps.Clock.Now().Add(s.verifyTimeout)
	for {
		got := s.deps.Terminal.Snapshot().Substring(row, col, n)
		if strings.EqualFold(got, texto) {
			return true
		}
		if !s.deps.Clock.Now().Before(deadline) {
			return false
		}
		s.sleep(s.pollInterval)
	}
}

// Clicar clicks a screen position.
func (s *Surface) Clicar(linha, coluna int) bool {
	s.enter("clicar")
	if !s.write(s.deps.Codec.Click(linha, coluna)) {
		return false
	}
	s.pace()
	return true
}

// Esperar pauses the script, one second by default.
func (s *Surface) Esperar(segundos ...float64) {
	s.enter("esperar")
	d := defaultWait
	if len(segundos) > 0 {
		d = rotina.Seconds(segundos[0])
	}
	s.sleep(d)
}

// Velocidade sets the delay inserted after each input primitive.
func (s *Surface) Velocidade(segundos float64) {
	s.enter("velocidade")
	s.mu.Lock()
	s.delay = rotina.Seconds(segundos)
	s.mu.Unlock()
}

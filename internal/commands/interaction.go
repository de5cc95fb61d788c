package commands

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/rotina"
)

// CriarModal shows a form with one text input per campo and returns the
// answers by field name, or nil when cancelled. A campo may carry a
// default value as "Nome=valor".
func (s *Surface) CriarModal(titulo string, campos ...string) map[string]string {
	s.enter("criarModal")
	fields := make([]ports.FormField, 0, len(campos))
	for _, c := range campos {
		name, def, _ := strings.Cut(c, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		fields = append(fields, ports.FormField{Name: name, Label: name, Default: def})
	}

	values, err := s.deps.Dialog.Form(titulo, fields)
	s.abortOn(err)
	if err != nil {
		s.notify(false, "Não foi possível abrir o formulário: %v", err)
		return nil
	}
	return values
}

// Confirmar asks a yes/no question.
func (s *Surface) Confirmar(mensagem string) bool {
	s.enter("confirmar")
	ok, err := s.deps.Dialog.Confirm("Confirmação", mensagem)
	s.abortOn(err)
	if err != nil {
		s.notify(false, "Não foi possível confirmar: %v", err)
		return false
	}
	return ok
}

// ExibirNotificacao shows a message without blocking.
func (s *Surface) ExibirNotificacao(mensagem string, ok bool, segundos float64) {
	s.enter("exibirNotificacao")
	d := rotina.Seconds(segundos)
	if d == 0 {
		d = defaultNotification
	}
	s.deps.Dialog.Notify(mensagem, ok, d)
}

// ExecutarRotina runs another rotina inline and returns when it ends.
// Its failures go through the same recovery as a failing primitive.
func (s *Surface) ExecutarRotina(caminho string) bool {
	s.enter("executarRotina")
	if s.runner == nil {
		s.notify(false, "Execução aninhada indisponível: %s", caminho)
		return false
	}
	err := s.runner.ExecuteNested(s.ctx, caminho)
	if err == nil {
		return true
	}
	s.abortOn(err)
	slog.Warn("nested rotina failed", slog.String("path", caminho), slog.String("error", err.Error()))
	if errors.Is(err, ports.ErrScriptNotFound) {
		s.notify(false, "Rotina não encontrada: %s", caminho)
		return false
	}
	s.raise(err)
	return false
}

package commands

import (
	"log/slog"

	"github.com/atotto/clipboard"
)

// systemClipboard uses the desktop clipboard. Without one, copied text
// only lives for the run.
type systemClipboard struct{}

func defaultClipboard() Clipboard {
	if clipboard.Unsupported {
		return nil
	}
	return systemClipboard{}
}

func (systemClipboard) ReadAll() (string, error) {
	return clipboard.ReadAll()
}

func (systemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

// Copiar reads the screen like obterTexto and keeps the result for colar.
func (s *Surface) Copiar(coords ...int) string {
	s.enter("copiar")
	text := s.read("copiar", coords)

	s.mu.Lock()
	s.clip = text
	s.mu.Unlock()
	if s.clipboard != nil {
		if err := s.clipboard.WriteAll(text); err != nil {
			slog.Debug("clipboard write failed", slog.String("path", s.path), slog.String("error", err.Error()))
		}
	}
	return text
}

// Colar types the copied text.
func (s *Surface) Colar() bool {
	s.enter("colar")
	text := s.pasteText()
	if text == "" {
		s.notify(false, "Nada para colar")
		return false
	}
	if !s.write([]byte(text)) {
		return false
	}
	s.pace()
	return true
}

func (s *Surface) pasteText() string {
	if s.clipboard != nil {
		if text, err := s.clipboard.ReadAll(); err == nil && text != "" {
			return text
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clip
}

package commands

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolve maps a script path into the workspace.
func (s *Surface) resolve(caminho string) (string, error) {
	if strings.TrimSpace(caminho) == "" {
		return "", fmt.Errorf("caminho vazio")
	}
	if s.workspace == "" {
		return filepath.Clean(caminho), nil
	}
	full := caminho
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.workspace, caminho)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(s.workspace, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("acesso negado fora da pasta de trabalho: %s", caminho)
	}
	return full, nil
}

// CriarArquivo writes content to a file, replacing it.
func (s *Surface) CriarArquivo(caminho, conteudo string) bool {
	s.enter("criarArquivo")
	full, err := s.resolve(caminho)
	if err != nil {
		s.notify(false, "Não foi possível criar o arquivo: %v", err)
		return false
	}
	if err := s.deps.Files.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		s.notify(false, "Não foi possível criar a pasta de %s: %v", caminho, err)
		return false
	}
	if err := s.deps.Files.WriteFile(full, []byte(conteudo), 0o644); err != nil {
		s.notify(false, "Não foi possível criar o arquivo %s: %v", caminho, err)
		return false
	}
	return true
}

// LerArquivo returns a file's content, or "" on failure.
func (s *Surface) LerArquivo(caminho string) string {
	s.enter("lerArquivo")
	data, ok := s.readFile(caminho)
	if !ok {
		return ""
	}
	return string(data)
}

func (s *Surface) readFile(caminho string) ([]byte, bool) {
	full, err := s.resolve(caminho)
	if err != nil {
		s.notify(false, "Não foi possível ler o arquivo: %v", err)
		return nil, false
	}
	data, err := s.deps.Files.ReadFile(full)
	if err != nil {
		s.notify(false, "Não foi possível ler o arquivo %s: %v", caminho, err)
		return nil, false
	}
	return data, true
}

// AnexarNoArquivo appends content to a file.
func (s *Surface) AnexarNoArquivo(caminho, conteudo string) bool {
	s.enter("anexarNoArquivo")
	full, err := s.resolve(caminho)
	if err != nil {
		s.notify(false, "Não foi possível anexar ao arquivo: %v", err)
		return false
	}
	if err := s.deps.Files.AppendFile(full, []byte(conteudo), 0o644); err != nil {
		s.notify(false, "Não foi possível anexar ao arquivo %s: %v", caminho, err)
		return false
	}
	return true
}

// ExcluirArquivo deletes a file.
func (s *Surface) ExcluirArquivo(caminho string) bool {
	s.enter("excluirArquivo")
	full, err := s.resolve(caminho)
	if err != nil {
		s.notify(false, "Não foi possível excluir o arquivo: %v", err)
		return false
	}
	if err := s.deps.Files.Remove(full); err != nil {
		s.notify(false, "Não foi possível excluir o arquivo %s: %v", caminho, err)
		return false
	}
	return true
}

// ProcessarLinhas calls fn for every non-blank line of a file with its
// 1-based line number. Primitives called by fn suspend as usual.
func (s *Surface) ProcessarLinhas(arquivo string, fn func(linha string, numero int)) bool {
	s.enter("processarLinhas")
	if fn == nil {
		panic(fmt.Errorf("processarLinhas: função não informada"))
	}
	data, ok := s.readFile(arquivo)
	if !ok {
		return false
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.enter("processarLinhas")
		fn(line, i+1)
	}
	return true
}

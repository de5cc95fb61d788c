package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/rotina"
	"github.com/acolita/rotinas/internal/screen"
	"github.com/acolita/rotinas/internal/supervisor"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(rotinaListTool(), s.handleRotinaList)
	s.mcpServer.AddTool(rotinaExecuteTool(), s.handleRotinaExecute)
	s.mcpServer.AddTool(rotinaTestTool(), s.handleRotinaTest)
	s.mcpServer.AddTool(simpleTool("rotina_pause", "Pause the running rotina at its next step"), s.handleRotinaPause)
	s.mcpServer.AddTool(simpleTool("rotina_resume", "Resume a paused rotina"), s.handleRotinaResume)
	s.mcpServer.AddTool(simpleTool("rotina_stop", "Stop the running rotina"), s.handleRotinaStop)
	s.mcpServer.AddTool(simpleTool("rotina_status", "Execution state, pending decisions, notifications and the last run"), s.handleRotinaStatus)
	s.mcpServer.AddTool(rotinaDecideTool(), s.handleRotinaDecide)
	s.mcpServer.AddTool(rotinaSaveTool(), s.handleRotinaSave)
	s.mcpServer.AddTool(rotinaDeleteTool(), s.handleRotinaDelete)
	s.mcpServer.AddTool(screenReadTool(), s.handleScreenRead)
	s.mcpServer.AddTool(terminalInputTool(), s.handleTerminalInput)
	s.mcpServer.AddTool(simpleTool("recording_start", "Start recording keystrokes as a rotina, beginning at the cursor"), s.handleRecordingStart)
	s.mcpServer.AddTool(simpleTool("recording_pause", "Pause the recording"), s.handleRecordingPause)
	s.mcpServer.AddTool(simpleTool("recording_resume", "Resume the recording"), s.handleRecordingResume)
	s.mcpServer.AddTool(recordingStopTool(), s.handleRecordingStop)
	s.mcpServer.AddTool(simpleTool("monitor_pause", "Stop the auto-trigger watcher from firing"), s.handleMonitorPause)
	s.mcpServer.AddTool(simpleTool("monitor_resume", "Let the auto-trigger watcher fire again"), s.handleMonitorResume)
}

// Tool definitions

func simpleTool(name, description string) mcp.Tool {
	return mcp.NewTool(name, mcp.WithDescription(description))
}

func rotinaListTool() mcp.Tool {
	return mcp.NewTool("rotina_list",
		mcp.WithDescription("List stored rotinas, user scripts first, with their auto-run triggers"),
	)
}

func rotinaExecuteTool() mcp.Tool {
	return mcp.NewTool("rotina_execute",
		mcp.WithDescription("Run a stored rotina. Returns immediately unless wait is true"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Script path, e.g. 'faturamento/emitir'"),
		),
		mcp.WithString("origin",
			mcp.Description("'user' or 'public'; empty searches user then public"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the run ends (default: false)"),
		),
	)
}

func rotinaTestTool() mcp.Tool {
	return mcp.NewTool("rotina_test",
		mcp.WithDescription("Run source text as a test run of path without saving it"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Name shown in the controls and used by Edit"),
		),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Script source to run"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the run ends (default: false)"),
		),
	)
}

func rotinaDecideTool() mcp.Tool {
	return mcp.NewTool("rotina_decide",
		mcp.WithDescription("Answer a pending decision listed by rotina_status"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Decision id"),
		),
		mcp.WithObject("decision",
			mcp.Required(),
			mcp.Description(`{"confirmed": bool} | {"action": "parar|pausar|continuar|editar|desativar|desativar_sessao|desativar_por", "minutes": n} | {"values": {...}} | {"cancel": true}`),
		),
	)
}

func rotinaSaveTool() mcp.Tool {
	return mcp.NewTool("rotina_save",
		mcp.WithDescription("Create or replace a rotina. The source is compiled first"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Script path"),
		),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Script source"),
		),
		mcp.WithString("origin",
			mcp.Description("'user' (default) or 'public'"),
		),
	)
}

func rotinaDeleteTool() mcp.Tool {
	return mcp.NewTool("rotina_delete",
		mcp.WithDescription("Delete a stored rotina"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Script path"),
		),
		mcp.WithString("origin",
			mcp.Description("'user' (default) or 'public'"),
		),
	)
}

func screenReadTool() mcp.Tool {
	return mcp.NewTool("screen_read",
		mcp.WithDescription("Read the terminal screen, cursor and input fields"),
		mcp.WithNumber("row",
			mcp.Description("Only this 1-based row"),
		),
	)
}

func terminalInputTool() mcp.Tool {
	return mcp.NewTool("terminal_input",
		mcp.WithDescription("Type into the terminal as the user would: text first, then named keys"),
		mcp.WithString("text",
			mcp.Description("Literal text to type"),
		),
		mcp.WithArray("keys",
			mcp.Description("Key names such as ENTER, TAB, PF3, PAGEDOWN"),
			mcp.WithStringItems(),
		),
	)
}

func recordingStopTool() mcp.Tool {
	return mcp.NewTool("recording_stop",
		mcp.WithDescription("Stop recording and return the script; optionally save it"),
		mcp.WithString("save_as",
			mcp.Description("Save the recorded script under this user path"),
		),
	)
}

// Tool handlers

type listEntry struct {
	Path     string   `json:"caminho"`
	Origin   string   `json:"origem"`
	Triggers []string `json:"gatilhos,omitempty"`
}

func (s *Server) handleRotinaList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scripts, err := s.deps.Repository.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listar rotinas: %v", err)), nil
	}
	entries := make([]listEntry, 0, len(scripts))
	for _, sc := range scripts {
		entries = append(entries, listEntry{Path: sc.Path, Origin: string(sc.Origin), Triggers: triggers(sc.Source)})
	}
	return jsonResult(map[string]any{"rotinas": entries})
}

func parseOrigin(req mcp.CallToolRequest, def ports.Origin) (ports.Origin, error) {
	switch o := ports.Origin(mcp.ParseString(req, "origin", string(def))); o {
	case "", ports.OriginUser, ports.OriginPublic:
		return o, nil
	default:
		return "", fmt.Errorf("origem inválida %q", o)
	}
}

func (s *Server) handleRotinaExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	origin, err := parseOrigin(req, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.start(ctx, supervisor.Request{Path: path, Origin: origin}, mcp.ParseBoolean(req, "wait", false))
}

func (s *Server) handleRotinaTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	source := mcp.ParseString(req, "source", "")
	if path == "" || strings.TrimSpace(source) == "" {
		return mcp.NewToolResultError("path and source are required"), nil
	}
	if _, err := rotina.Compile(path, source); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.start(ctx, supervisor.Request{
		Path:    path,
		Origin:  ports.OriginUser,
		Source:  source,
		TestRun: true,
	}, mcp.ParseBoolean(req, "wait", false))
}

// start runs req and records the result. Without wait the run continues
// after the tool call returns, detached from its context.
func (s *Server) start(ctx context.Context, req supervisor.Request, wait bool) (*mcp.CallToolResult, error) {
	if s.deps.Supervisor.Status().State != supervisor.Stopped {
		return mcp.NewToolResultError(supervisor.ErrBusy.Error()), nil
	}

	result := RunResult{Path: req.Path, Started: s.now(), Running: true}
	s.setLastRun(result)

	exec := func(ctx context.Context) RunResult {
		err := s.deps.Supervisor.Execute(ctx, req)
		r := result
		r.Running = false
		r.Finished = s.now()
		if err != nil {
			r.Error = err.Error()
		}
		s.setLastRun(r)
		return r
	}

	if wait {
		return jsonResult(exec(ctx))
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		r := exec(context.WithoutCancel(ctx))
		if r.Error != "" {
			s.logger.Warn("rotina run failed",
				slog.String("path", r.Path),
				slog.String("error", r.Error),
			)
		}
	}()
	return jsonResult(result)
}

func (s *Server) handleRotinaPause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.deps.Supervisor.Pause(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.deps.Supervisor.Status())
}

func (s *Server) handleRotinaResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.deps.Supervisor.Resume(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.deps.Supervisor.Status())
}

func (s *Server) handleRotinaStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.deps.Supervisor.Stop()
	return jsonResult(s.deps.Supervisor.Status())
}

type statusResult struct {
	supervisor.Status
	Monitoring bool          `json:"monitorando"`
	Waiting    []string      `json:"aguardando,omitempty"`
	Recording  string        `json:"gravacao,omitempty"`
	Pending    []Pending     `json:"decisoes,omitempty"`
	Notices    []Notice      `json:"notificacoes,omitempty"`
	Edits      []EditRequest `json:"edicoes,omitempty"`
	LastRun    *RunResult    `json:"ultima_execucao,omitempty"`
}

func (s *Server) handleRotinaStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := statusResult{
		Status:  s.deps.Supervisor.Status(),
		LastRun: s.lastResult(),
	}
	if s.deps.Monitor != nil {
		st.Monitoring = s.deps.Monitor.Monitoring()
		st.Waiting = s.deps.Monitor.WaitingPaths()
	}
	if rec := s.deps.Recorder; rec != nil && rec.Active() {
		st.Recording = "gravando"
		if rec.Paused() {
			st.Recording = "pausada"
		}
	}
	if d := s.deps.Dialog; d != nil {
		st.Pending = d.Pending()
		st.Notices = d.Notices()
		st.Edits = d.Edits()
	}
	return jsonResult(st)
}

func (s *Server) handleRotinaDecide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Dialog == nil {
		return mcp.NewToolResultError("decisões remotas desativadas"), nil
	}
	id := mcp.ParseString(req, "id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	decision := mcp.ParseStringMap(req, "decision", nil)
	if decision == nil {
		return mcp.NewToolResultError("decision is required"), nil
	}
	if err := s.deps.Dialog.Decide(id, decision); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"id": id, "aceita": true})
}

func (s *Server) handleRotinaSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	source := mcp.ParseString(req, "source", "")
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	origin, err := parseOrigin(req, ports.OriginUser)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := rotina.Compile(path, source); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sc := ports.Script{Path: path, Source: source, Origin: origin}
	if err := s.deps.Repository.Save(ctx, sc); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("salvar %s: %v", path, err)), nil
	}
	s.logger.Info("rotina saved", slog.String("path", path), slog.String("origin", string(origin)))
	return jsonResult(listEntry{Path: path, Origin: string(origin), Triggers: triggers(source)})
}

func triggers(src string) []string {
	var out []string
	for _, d := range rotina.Declarations(src) {
		out = append(out, d.Trigger)
	}
	return out
}

func (s *Server) handleRotinaDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	origin, err := parseOrigin(req, ports.OriginUser)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.deps.Repository.Delete(ctx, origin, path); err != nil {
		if errors.Is(err, ports.ErrScriptNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("rotina %s não encontrada", path)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("excluir %s: %v", path, err)), nil
	}
	return jsonResult(map[string]any{"caminho": path, "excluida": true})
}

type fieldResult struct {
	Row     int    `json:"linha"`
	Col     int    `json:"coluna"`
	Length  int    `json:"tamanho"`
	Content string `json:"conteudo"`
}

type screenResult struct {
	Rows   int           `json:"linhas"`
	Cols   int           `json:"colunas"`
	Cursor [2]int        `json:"cursor"`
	Lines  []string      `json:"tela"`
	Fields []fieldResult `json:"campos,omitempty"`
}

func (s *Server) handleScreenRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.deps.Terminal.Snapshot()
	rows, cols := snap.Size()
	cur := snap.Cursor()
	res := screenResult{Rows: rows, Cols: cols, Cursor: [2]int{cur.Row, cur.Col}}

	row := mcp.ParseInt(req, "row", 0)
	switch {
	case row == 0:
		res.Lines = snap.Lines()
	case row < 1 || row > rows:
		return mcp.NewToolResultError(fmt.Sprintf("linha %d fora da tela (1-%d)", row, rows)), nil
	default:
		res.Lines = []string{snap.Line(row)}
	}

	for _, f := range snap.Fields() {
		if row != 0 && f.Row != row {
			continue
		}
		res.Fields = append(res.Fields, toField(f))
	}
	return jsonResult(res)
}

func toField(f screen.Field) fieldResult {
	return fieldResult{Row: f.Row, Col: f.Col, Length: f.Length, Content: f.Content}
}

func (s *Server) handleTerminalInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := mcp.ParseString(req, "text", "")
	var names []string
	if raw, ok := req.GetArguments()["keys"].([]any); ok {
		for _, v := range raw {
			name, ok := v.(string)
			if !ok {
				return mcp.NewToolResultError("keys must be strings"), nil
			}
			names = append(names, name)
		}
	}
	if text == "" && len(names) == 0 {
		return mcp.NewToolResultError("text or keys is required"), nil
	}

	// Resolve every key before sending anything.
	seqs := make([][]byte, 0, len(names))
	for _, name := range names {
		seq, ok := s.codec.Sequence(name)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("tecla desconhecida %q", name)), nil
		}
		seqs = append(seqs, seq)
	}

	if text != "" {
		if err := s.deps.Terminal.HandleUserInput([]byte(text)); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("enviar texto: %v", err)), nil
		}
	}
	for i, seq := range seqs {
		if err := s.deps.Terminal.HandleUserInput(seq); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("enviar %s: %v", names[i], err)), nil
		}
	}
	return jsonResult(map[string]any{"texto": len(text), "teclas": names})
}

func (s *Server) recorder() (*mcp.CallToolResult, bool) {
	if s.deps.Recorder == nil {
		return mcp.NewToolResultError("gravação indisponível"), false
	}
	return nil, true
}

func (s *Server) recordingState() map[string]any {
	return map[string]any{
		"ativa":    s.deps.Recorder.Active(),
		"pausada":  s.deps.Recorder.Paused(),
		"comandos": len(s.deps.Recorder.Statements()),
	}
}

func (s *Server) handleRecordingStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, ok := s.recorder(); !ok {
		return res, nil
	}
	if s.deps.Recorder.Active() {
		return mcp.NewToolResultError("gravação já iniciada"), nil
	}
	cur := s.deps.Terminal.CursorPosition()
	s.deps.Recorder.Start(cur.Row, cur.Col)
	return jsonResult(s.recordingState())
}

func (s *Server) handleRecordingPause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, ok := s.recorder(); !ok {
		return res, nil
	}
	if !s.deps.Recorder.Active() {
		return mcp.NewToolResultError("nenhuma gravação ativa"), nil
	}
	s.deps.Recorder.Pause()
	return jsonResult(s.recordingState())
}

func (s *Server) handleRecordingResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, ok := s.recorder(); !ok {
		return res, nil
	}
	if !s.deps.Recorder.Active() {
		return mcp.NewToolResultError("nenhuma gravação ativa"), nil
	}
	s.deps.Recorder.Resume()
	return jsonResult(s.recordingState())
}

func (s *Server) handleRecordingStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, ok := s.recorder(); !ok {
		return res, nil
	}
	if !s.deps.Recorder.Active() {
		return mcp.NewToolResultError("nenhuma gravação ativa"), nil
	}
	source := s.deps.Recorder.Stop()
	out := map[string]any{"fonte": source}

	if path := mcp.ParseString(req, "save_as", ""); path != "" {
		sc := ports.Script{Path: path, Source: source, Origin: ports.OriginUser}
		if err := s.deps.Repository.Save(ctx, sc); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("salvar %s: %v", path, err)), nil
		}
		out["caminho"] = path
	}
	return jsonResult(out)
}

func (s *Server) handleMonitorPause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Monitor == nil {
		return mcp.NewToolResultError("monitoramento desativado"), nil
	}
	s.deps.Monitor.PauseMonitoring()
	return jsonResult(map[string]any{"monitorando": s.deps.Monitor.Monitoring()})
}

func (s *Server) handleMonitorResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Monitor == nil {
		return mcp.NewToolResultError("monitoramento desativado"), nil
	}
	s.deps.Monitor.ResumeMonitoring()
	return jsonResult(map[string]any{"monitorando": s.deps.Monitor.Monitoring()})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

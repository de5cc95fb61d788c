package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/acolita/rotinas/internal/adapters/realclock"
	"github.com/acolita/rotinas/internal/adapters/realdialog"
	"github.com/acolita/rotinas/internal/app"
	"github.com/acolita/rotinas/internal/ports"
)

// escapeKey (Ctrl+]) prefixes the console commands.
const escapeKey = 0x1d

const attachHelp = `Ctrl+] q  sair
Ctrl+] p  pausar ou retomar a rotina
Ctrl+] s  parar a rotina
Ctrl+] g  iniciar ou encerrar a gravação
Ctrl+] ]  enviar Ctrl+]`

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Use the terminal interactively with auto-triggers and recording",
	Long: `Connects the configured terminal and hands it the local keyboard.
The screen is echoed as it changes. Console commands:

` + attachHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return errors.New("attach needs an interactive terminal")
		}

		cfg, path, override, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, level, logFile, err := setupLogging(cfg, true)
		if err != nil {
			return err
		}
		defer logFile.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()

		con := newConsole(fd, os.Stdout)
		var rt *app.App
		dialog := realdialog.New(
			realdialog.WithIO(con.dialogIn, os.Stdout),
			realdialog.WithSuspender(con),
			realdialog.WithSaveHook(func(p, content string) error {
				return rt.Repository.Save(ctx, ports.Script{Path: p, Origin: ports.OriginUser, Source: content})
			}),
		)

		clock := realclock.New()
		rt, err = app.New(ctx, cfg,
			app.WithDialog(dialog),
			app.WithClock(clock),
			app.WithLogger(logger, level),
			app.WithMirror(con),
		)
		if err != nil {
			return err
		}
		defer rt.Close()
		con.mu.Lock()
		con.repaint = func() { con.redraw(rt) }
		con.mu.Unlock()

		if err := rt.WatchConfig(path, override); err != nil {
			logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		}

		restore, err := con.makeRaw()
		if err != nil {
			return err
		}
		defer restore()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go con.watchSize(ctx, rt)
		go con.readInput(ctx, cancel, rt, dialog)

		return rt.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

// console owns the local terminal. Outside dialogs keystrokes go to the
// session and the screen is mirrored; during a dialog keystrokes go to the
// dialog and the mirror is muted.
type console struct {
	fd  int
	out io.Writer

	dialogIn  *io.PipeReader
	dialogOut *io.PipeWriter

	mu        sync.Mutex
	suspended int
	repaint   func()
}

func newConsole(fd int, out io.Writer) *console {
	r, w := io.Pipe()
	return &console{fd: fd, out: out, dialogIn: r, dialogOut: w}
}

func (c *console) makeRaw() (func(), error) {
	st, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	return func() {
		_ = term.Restore(c.fd, st)
		fmt.Fprint(c.out, "\r\n")
	}, nil
}

// Write mirrors terminal output unless a dialog is showing.
func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended > 0 {
		return len(p), nil
	}
	return c.out.Write(p)
}

// Suspend implements realdialog.Suspender.
func (c *console) Suspend() func() {
	c.mu.Lock()
	c.suspended++
	c.mu.Unlock()
	fmt.Fprint(c.out, "\x1b[2J\x1b[H")

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.suspended--
			repaint := c.repaint
			c.mu.Unlock()
			if repaint != nil {
				repaint()
			}
		})
	}
}

func (c *console) inDialog() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended > 0
}

// redraw repaints the last screen after a dialog.
func (c *console) redraw(rt *app.App) {
	lines := rt.Session.Snapshot().Lines()
	pos := rt.Session.CursorPosition()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended > 0 {
		return
	}
	fmt.Fprintf(c.out, "\x1b[2J\x1b[H%s\x1b[%d;%dH", strings.Join(lines, "\r\n"), pos.Row, pos.Col)
}

func (c *console) watchSize(ctx context.Context, rt *app.App) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			cols, rows, err := term.GetSize(c.fd)
			if err != nil {
				continue
			}
			if err := rt.Session.Resize(cols, rows); err != nil {
				slog.Debug("resize failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *console) readInput(ctx context.Context, quit context.CancelFunc, rt *app.App, dialog ports.DialogProvider) {
	buf := make([]byte, 256)
	escaped := false
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			quit()
			return
		}
		data := buf[:n]
		if c.inDialog() {
			if _, err := c.dialogOut.Write(data); err != nil {
				return
			}
			continue
		}

		var pass []byte
		for _, b := range data {
			switch {
			case escaped:
				escaped = false
				if b == ']' {
					pass = append(pass, escapeKey)
					continue
				}
				if c.command(ctx, quit, rt, dialog, b) {
					return
				}
			case b == escapeKey:
				escaped = true
			default:
				pass = append(pass, b)
			}
		}
		if len(pass) > 0 {
			if err := rt.Session.HandleUserInput(pass); err != nil {
				slog.Warn("input failed", slog.String("error", err.Error()))
			}
		}
	}
}

// command runs a console command and reports whether to stop reading.
func (c *console) command(ctx context.Context, quit context.CancelFunc, rt *app.App, dialog ports.DialogProvider, key byte) bool {
	switch key {
	case 'q', 'Q':
		quit()
		return true
	case 'p', 'P':
		if err := rt.Supervisor.Pause(); err != nil {
			if err := rt.Supervisor.Resume(); err != nil {
				dialog.Notify("Nenhuma rotina em execução", false, 0)
			}
		}
	case 's', 'S':
		rt.Supervisor.Stop()
	case 'g', 'G':
		if !rt.Recorder.Active() {
			pos := rt.Session.CursorPosition()
			rt.Recorder.Start(pos.Row, pos.Col)
			dialog.Notify("Gravação iniciada", true, 0)
			return false
		}
		src := rt.Recorder.Stop()
		// The form reads keystrokes through this goroutine's loop.
		go c.saveRecording(ctx, rt, dialog, src)
	default:
		dialog.Notify(attachHelp, true, 0)
	}
	return false
}

func (c *console) saveRecording(ctx context.Context, rt *app.App, dialog ports.DialogProvider, src string) {
	values, err := dialog.Form("Salvar gravação", []ports.FormField{{Name: "caminho", Label: "Caminho da rotina"}})
	if err != nil || values == nil || strings.TrimSpace(values["caminho"]) == "" {
		dialog.Notify("Gravação descartada", false, 0)
		return
	}
	p := strings.TrimSpace(values["caminho"])
	if err := rt.Repository.Save(ctx, ports.Script{Path: p, Origin: ports.OriginUser, Source: src}); err != nil {
		dialog.Notify(fmt.Sprintf("Não foi possível salvar %s: %v", p, err), false, 0)
		return
	}
	dialog.Notify("Rotina "+p+" salva", true, 0)
}

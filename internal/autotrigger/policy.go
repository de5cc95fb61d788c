package autotrigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/rotina"
	"github.com/acolita/rotinas/internal/supervisor"
)

// HandleAutoRunError asks the user what to do with a failed auto-run. The
// disable choices are applied here and end the run; the returned action
// is RecoveryStop or RecoveryPause.
func (w *Watcher) HandleAutoRunError(script ports.Script, err error) ports.RecoveryAction {
	if w.deps.Dialog == nil {
		w.suppressions.DisableSession(script.Path)
		return ports.RecoveryStop
	}
	rec, derr := w.deps.Dialog.Choose(ports.RecoveryPrompt{
		Path:    script.Path,
		Message: err.Error(),
		AutoRun: true,
		Actions: ports.AutoRunRecoveryActions,
	})
	if derr != nil {
		// Unanswered: keep the broken rotina from firing again this session.
		w.logger.Warn("auto-run recovery dialog failed", slog.String("error", derr.Error()))
		w.suppressions.DisableSession(script.Path)
		return ports.RecoveryStop
	}

	switch rec.Action {
	case ports.RecoveryPause:
		return ports.RecoveryPause
	case ports.RecoveryDisablePermanently:
		if perr := w.DisablePermanently(context.Background(), script); perr != nil {
			w.logger.Warn("cannot disable auto-trigger", slog.String("path", script.Path), slog.String("error", perr.Error()))
			w.notify(false, fmt.Sprintf("Não foi possível desativar %s permanentemente: %v", script.Path, perr))
			w.suppressions.DisableSession(script.Path)
		}
	case ports.RecoveryDisableSession:
		w.suppressions.DisableSession(script.Path)
		w.notify(true, fmt.Sprintf("Execução automática de %s desativada nesta sessão", script.Path))
	case ports.RecoveryDisableFor:
		minutes := rec.Minutes
		if minutes <= 0 {
			minutes = defaultDisableMinutes
		}
		w.suppressions.DisableFor(script.Path, w.deps.Clock.Now().Add(time.Duration(minutes)*time.Minute))
		w.notify(true, fmt.Sprintf("Execução automática de %s desativada por %d minutos", script.Path, minutes))
	}
	w.logger.Info("auto-run failure handled", slog.String("path", script.Path), slog.String("action", rec.Action.String()))
	return ports.RecoveryStop
}

// DisablePermanently comments out the autoExecutar declarations of a
// script and saves it.
func (w *Watcher) DisablePermanently(ctx context.Context, script ports.Script) error {
	current, err := w.deps.Repository.Get(ctx, script.Origin, script.Path)
	if err != nil {
		return fmt.Errorf("load %s: %w", script.Path, err)
	}
	src, changed := rotina.DisableAutoTrigger(current.Source)
	if !changed {
		return nil
	}
	current.Source = src
	if err := w.deps.Repository.Save(ctx, current); err != nil {
		return fmt.Errorf("save %s: %w", script.Path, err)
	}
	w.notify(true, fmt.Sprintf("Execução automática de %s desativada", script.Path))
	return nil
}

func (w *Watcher) notify(ok bool, msg string) {
	if w.deps.Dialog != nil {
		w.deps.Dialog.Notify(msg, ok, 3*time.Second)
	}
}

var _ supervisor.AutoRunPolicy = (*Watcher)(nil)

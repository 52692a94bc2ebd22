package cli

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxrollsync/internal/session"
	"taxrollsync/internal/tui"
)

// stopTimeout bounds how long the session waits for in-flight jobs on exit.
const stopTimeout = 30 * time.Second

func newSessionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "session",
		Short:       "Start the interactive entry session (default)",
		Annotations: map[string]string{annotationInteractive: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd)
		},
	}
}

func (a *app) runSession(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := a.open(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	identity := ""
	sess, resumed, err := rt.svc.Resume()
	if err != nil {
		a.logger.Warn("login cache unreadable", zap.Error(err))
	}
	if resumed {
		identity = sess.Identity()
	}

	worker := session.NewWorker(rt.svc, zapAudit{logger: a.logger}, 0)
	model := tui.New(tui.NewController(worker, rt.svc), rt.catalog, identity)
	program := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	_, runErr := program.Run()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := worker.Stop(stopCtx); err != nil {
		a.logger.Warn("jobs still running at exit", zap.Error(err))
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}

// zapAudit writes job audit entries to the structured log.
type zapAudit struct {
	logger *zap.Logger
}

func (z zapAudit) Record(_ context.Context, e session.AuditEntry) {
	fields := []zap.Field{
		zap.String("job", e.Job),
		zap.String("action", string(e.Action)),
		zap.String("actor", e.Actor),
		zap.String("status", string(e.Status)),
		zap.Time("occurred_at", e.OccurredAt),
	}
	for k, v := range e.Metadata {
		fields = append(fields, zap.Any(k, v))
	}
	z.logger.Info("job audit", fields...)
}

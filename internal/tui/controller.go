package tui

import (
	"taxrollsync/internal/session"
	"taxrollsync/pkg/domain"
)

// Controller is what the terminal model drives: background jobs plus the
// synchronous navigation call. Logout may touch disk and is run off the
// update loop.
type Controller interface {
	Login(identity, secret string) (session.Job, error)
	Save(module domain.ModuleID, rows [][]string) (session.Job, error)
	Upload(data []byte) (session.Job, error)
	Submit() (session.Job, error)
	Completions() <-chan session.Completion

	// Navigate moves the session to Editing(module), or to Idle for "".
	Navigate(module domain.ModuleID) error
	Logout() error
}

type sessionController struct {
	*session.Worker
	svc *session.Service
}

// NewController binds a worker and its service.
func NewController(w *session.Worker, svc *session.Service) Controller {
	return &sessionController{Worker: w, svc: svc}
}

func (c *sessionController) Navigate(module domain.ModuleID) error {
	sess, err := c.svc.Current()
	if err != nil {
		return err
	}
	if module == "" {
		return sess.Idle()
	}
	return sess.Edit(module)
}

func (c *sessionController) Logout() error { return c.svc.Logout() }

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"taxrollsync/internal/auth"
	"taxrollsync/internal/ledger"
	"taxrollsync/internal/notify"
	"taxrollsync/internal/observability"
	"taxrollsync/internal/replication"
	"taxrollsync/internal/report"
	"taxrollsync/internal/sanitize"
	"taxrollsync/internal/upload"
	"taxrollsync/pkg/domain"
)

// Writer fans one statement out to the configured replicas.
type Writer interface {
	Write(ctx context.Context, stmt replication.Statement, args []any) replication.Outcome
}

// LoginCache remembers the last successful login on this machine.
type LoginCache interface {
	Load() (auth.Entry, bool, error)
	Save(identity string) error
	Clear() error
}

// Deps are the collaborators a Service needs. Catalog, Writer, Exporter,
// Publisher, Dispatcher and Verifier are required.
type Deps struct {
	Catalog    *domain.Catalog
	Writer     Writer
	Policy     replication.AcceptancePolicy
	Exporter   *report.Exporter
	Publisher  *report.Publisher
	Dispatcher notify.Dispatcher
	Verifier   auth.Verifier
	Cache      LoginCache
	Logger     *zap.Logger
	Metrics    observability.Recorder
	Now        func() time.Time
}

// Service runs the session pipelines. It holds at most one active session.
type Service struct {
	catalog    *domain.Catalog
	writer     Writer
	policy     replication.AcceptancePolicy
	exporter   *report.Exporter
	publisher  *report.Publisher
	dispatcher notify.Dispatcher
	verifier   auth.Verifier
	cache      LoginCache
	logger     *zap.Logger
	metrics    observability.Recorder
	now        func() time.Time

	mu         sync.Mutex
	current    *Session
	remembered string
}

// NewService validates deps and fills defaults.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Catalog == nil:
		return nil, errors.New("session: catalog required")
	case d.Writer == nil:
		return nil, errors.New("session: writer required")
	case d.Exporter == nil || d.Publisher == nil:
		return nil, errors.New("session: exporter and publisher required")
	case d.Dispatcher == nil:
		return nil, errors.New("session: dispatcher required")
	case d.Verifier == nil:
		return nil, errors.New("session: verifier required")
	}
	s := &Service{
		catalog:    d.Catalog,
		writer:     d.Writer,
		policy:     d.Policy,
		exporter:   d.Exporter,
		publisher:  d.Publisher,
		dispatcher: d.Dispatcher,
		verifier:   d.Verifier,
		cache:      d.Cache,
		logger:     d.Logger,
		metrics:    d.Metrics,
		now:        d.Now,
	}
	if s.policy == "" {
		s.policy = replication.AcceptIfAny
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = observability.NopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Catalog returns the module catalog.
func (s *Service) Catalog() *domain.Catalog { return s.catalog }

// Current returns the active session.
func (s *Service) Current() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, domain.ErrNotAuthenticated
	}
	return s.current, nil
}

// Resume starts a session from a fresh cached login, without credentials.
func (s *Service) Resume() (*Session, bool, error) {
	if s.cache == nil {
		return nil, false, nil
	}
	entry, ok, err := s.cache.Load()
	if err != nil || !ok {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remembered = entry.Identity
	if s.current == nil || !sameIdentity(s.current.Identity(), entry.Identity) {
		s.current = newSession(entry.Identity, s.now())
	}
	s.logger.Info("session resumed", zap.String("identity", entry.Identity), zap.String("session", s.current.ID()))
	return s.current, true, nil
}

// Login authenticates identity. An identity already authenticated in this
// process is accepted without consulting the verifier, and an active session
// for the same identity is returned unchanged.
func (s *Service) Login(ctx context.Context, identity, secret string) (*Session, error) {
	start := time.Now()
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, &domain.AuthenticationError{Identity: identity, Err: errors.New("identity required")}
	}

	s.mu.Lock()
	if s.current != nil && sameIdentity(s.current.Identity(), identity) {
		cur := s.current
		s.mu.Unlock()
		return cur, nil
	}
	known := sameIdentity(s.remembered, identity)
	s.mu.Unlock()

	if !known {
		ok, err := s.verifier.Verify(ctx, identity, secret)
		if err != nil || !ok {
			s.metrics.Observe(ctx, "login", false, time.Since(start))
			s.logger.Warn("login rejected", zap.String("identity", identity), zap.Error(err))
			return nil, &domain.AuthenticationError{Identity: identity, Err: err}
		}
	}

	s.mu.Lock()
	s.remembered = identity
	sess := newSession(identity, s.now())
	s.current = sess
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Save(identity); err != nil {
			s.logger.Warn("remember login", zap.Error(err))
		}
	}
	s.metrics.Observe(ctx, "login", true, time.Since(start))
	s.logger.Info("session started", zap.String("identity", identity), zap.String("session", sess.ID()))
	return sess, nil
}

// Logout drops the session and its ledger and forgets the cached login.
func (s *Service) Logout() error {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.remembered = ""
	s.mu.Unlock()
	if prev != nil {
		s.logger.Info("session ended",
			zap.String("identity", prev.Identity()),
			zap.String("session", prev.ID()),
			zap.Int("discarded", prev.Ledger().Len()))
	}
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear()
}

// RowFailure describes a row that no acceptable set of replicas stored.
type RowFailure struct {
	Row int
	Err error
}

// SaveResult tallies one save.
type SaveResult struct {
	Module   domain.ModuleID
	Inserted int
	// Partial counts inserted rows that some replica missed.
	Partial  int
	Rejected int
	Skipped  int
	Failures []RowFailure
}

// Notice is the operator-facing summary line.
func (r SaveResult) Notice() string {
	msg := fmt.Sprintf("%s: %d record(s) inserted", r.Module, r.Inserted)
	if r.Partial > 0 {
		msg += fmt.Sprintf(", %d on some replicas only", r.Partial)
	}
	if r.Rejected > 0 {
		msg += fmt.Sprintf(", %d failed", r.Rejected)
	}
	return msg
}

// Save sanitizes and replicates the rows of a module grid. Blank rows are
// skipped. Rows accepted by the policy are appended to the session ledger.
func (s *Service) Save(ctx context.Context, module domain.ModuleID, rows [][]string) (SaveResult, error) {
	sess, err := s.Current()
	if err != nil {
		return SaveResult{}, err
	}
	schema, err := s.catalog.Lookup(module)
	if err != nil {
		return SaveResult{}, err
	}
	return s.save(ctx, sess, schema, rows)
}

// Upload reads a workbook for the first upload module and saves its rows.
// A header mismatch aborts before any write.
func (s *Service) Upload(ctx context.Context, r io.Reader) (SaveResult, error) {
	sess, err := s.Current()
	if err != nil {
		return SaveResult{}, err
	}
	schema, err := s.uploadSchema()
	if err != nil {
		return SaveResult{}, err
	}
	sheet, err := upload.ReadWorkbook(r, schema)
	if err != nil {
		s.logger.Warn("upload rejected", zap.String("module", string(schema.Module)), zap.Error(err))
		return SaveResult{Module: schema.Module}, err
	}
	return s.save(ctx, sess, schema, sheet.Rows)
}

func (s *Service) uploadSchema() (domain.Schema, error) {
	for _, sc := range s.catalog.Schemas() {
		if sc.Source == domain.SourceUpload {
			return sc, nil
		}
	}
	return domain.Schema{}, errors.New("no upload module configured")
}

func (s *Service) save(ctx context.Context, sess *Session, schema domain.Schema, rows [][]string) (SaveResult, error) {
	if err := sess.beginSave(); err != nil {
		return SaveResult{Module: schema.Module}, err
	}
	defer sess.endSave()

	start := time.Now()
	res := SaveResult{Module: schema.Module}
	stmt := replication.InsertFor(schema)
	createdAt := s.now()
	for i, raw := range rows {
		if sanitize.IsBlank(raw) {
			res.Skipped++
			continue
		}
		values := sanitize.ForSchema(schema, raw)
		if sanitize.IsEmpty(values) {
			res.Skipped++
			continue
		}
		rec := domain.Record{Values: values, Author: sess.Identity(), CreatedAt: createdAt}
		out := s.writer.Write(ctx, stmt, rec.ArgsFor(schema.Len()))
		if !s.policy.Accepts(out) {
			res.Rejected++
			res.Failures = append(res.Failures, RowFailure{Row: i + 1, Err: out.Err()})
			continue
		}
		sess.Ledger().Append(schema.Module, rec)
		res.Inserted++
		if out.Succeeded < out.Total() {
			res.Partial++
		}
	}
	s.metrics.Observe(ctx, "save", res.Rejected == 0, time.Since(start))
	s.logger.Info("rows saved",
		zap.String("module", string(schema.Module)),
		zap.String("session", sess.ID()),
		zap.Int("inserted", res.Inserted),
		zap.Int("partial", res.Partial),
		zap.Int("rejected", res.Rejected),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// SubmitResult describes a completed submit.
type SubmitResult struct {
	Summary   report.Summary
	Subject   string
	Artifact  string
	Sheets    []string
	Published report.Published
}

// Submit exports the ledger, publishes the workbook, and mails the report.
// The ledger is cleared only after the notification was accepted; any failure
// keeps it and returns the session to its previous phase.
func (s *Service) Submit(ctx context.Context) (SubmitResult, error) {
	sess, err := s.Current()
	if err != nil {
		return SubmitResult{}, err
	}
	rp, err := sess.beginSubmit()
	if err != nil {
		return SubmitResult{}, err
	}
	start := time.Now()
	res, err := s.submit(ctx, sess)
	sess.endSubmit(rp, err == nil)
	s.metrics.Observe(ctx, "submit", err == nil, time.Since(start))
	if err != nil {
		s.logger.Warn("submit failed", zap.String("session", sess.ID()), zap.Error(err))
		return SubmitResult{}, err
	}
	s.logger.Info("report submitted",
		zap.String("session", sess.ID()),
		zap.String("artifact", res.Artifact),
		zap.Int("records", res.Summary.Records),
		zap.Int("batches", len(res.Summary.Batches)))
	return res, nil
}

func (s *Service) submit(ctx context.Context, sess *Session) (SubmitResult, error) {
	snap := sess.Ledger().Snapshot()
	if snap.Total() == 0 {
		return SubmitResult{}, domain.ErrNothingToSubmit
	}
	art, err := s.exporter.Export(snap)
	if err != nil {
		return SubmitResult{}, &domain.ExportError{Err: err}
	}
	pub, err := s.publisher.Publish(ctx, art, sess.Identity())
	if err != nil {
		return SubmitResult{}, &domain.ExportError{Err: err}
	}
	summary := report.Summarize(snap, s.catalog)
	msg, err := report.RenderMessage(summary, sess.Identity(), s.now())
	if err != nil {
		return SubmitResult{}, &domain.ExportError{Err: err}
	}
	n := notify.Notification{
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		Attachments: []notify.Attachment{{Name: art.Name, ContentType: art.ContentType, Data: art.Data}},
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		return SubmitResult{}, &domain.DispatchError{Err: err}
	}
	sess.Ledger().Clear()
	return SubmitResult{
		Summary:   summary,
		Subject:   msg.Subject,
		Artifact:  art.ID,
		Sheets:    art.Sheets,
		Published: pub,
	}, nil
}

// Pending returns a copy of the active session's ledger.
func (s *Service) Pending() (ledger.Snapshot, error) {
	sess, err := s.Current()
	if err != nil {
		return nil, err
	}
	return sess.Ledger().Snapshot(), nil
}

func sameIdentity(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

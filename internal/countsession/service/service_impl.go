package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stocktake/internal/audit/domain"
	"github.com/smallbiznis/stocktake/internal/clock"
	"github.com/smallbiznis/stocktake/internal/config"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/pkg/db"
	"github.com/smallbiznis/stocktake/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sessionNumberPrefix = "ST"

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   sessiondomain.Repository
	Audit  auditdomain.Service
	Config *config.StockTakeConfigHolder `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   sessiondomain.Repository
	audit  auditdomain.Service
	config *config.StockTakeConfigHolder
}

func New(p Params) sessiondomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("countsession.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		audit:  p.Audit,
		config: p.Config,
	}
}

func (s *Service) StartOrResumeSession(ctx context.Context, counterID string) (*sessiondomain.CountSession, error) {
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return nil, sessiondomain.ErrInvalidCounter
	}

	for attempt := 1; attempt <= sessiondomain.SessionNumberRetries; attempt++ {
		var (
			session *sessiondomain.CountSession
			created bool
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.repo.FindOpenByCounter(ctx, tx, counterID)
			if err != nil {
				return err
			}
			if existing != nil {
				session = existing
				return nil
			}

			now := s.clock.Now().UTC()
			number, err := s.nextSessionNumber(ctx, tx, now)
			if err != nil {
				return err
			}

			session = &sessiondomain.CountSession{
				ID:            s.genID.Generate(),
				SessionNumber: number,
				Status:        sessiondomain.StatusDraft,
				StartedBy:     counterID,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			created = true
			return s.repo.Insert(ctx, tx, session)
		})
		if err == nil {
			if created {
				s.log.Info("count session started",
					zap.String("session_id", session.ID.String()),
					zap.String("session_number", session.SessionNumber),
					zap.String("counter_id", counterID),
				)
				s.audit.Record(ctx, auditdomain.Entry{
					SessionID:  &session.ID,
					ActorType:  auditdomain.ActorTypeCounter,
					ActorID:    counterID,
					Action:     "session.start",
					TargetType: auditdomain.TargetTypeSession,
					TargetID:   session.ID.String(),
					Metadata:   map[string]any{"session_number": session.SessionNumber},
				})
			}
			return session, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		s.log.Warn("session start collided, retrying",
			zap.String("counter_id", counterID),
			zap.Int("attempt", attempt),
			zap.String("constraint", db.ConstraintName(err)),
		)
	}

	return nil, sessiondomain.ErrSessionNumberConflict
}

// nextSessionNumber yields ST-<year>-<seq>, sequential within the calendar year.
func (s *Service) nextSessionNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%04d-", sessionNumberPrefix, now.Year())
	last, err := s.repo.LastSessionNumber(ctx, tx, prefix)
	if err != nil {
		return "", err
	}

	next := 1
	if last != "" {
		seq, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil {
			return "", fmt.Errorf("parse session number %q: %w", last, err)
		}
		next = seq + 1
	}
	return fmt.Sprintf("%s%05d", prefix, next), nil
}

func (s *Service) GetSession(ctx context.Context, id snowflake.ID) (*sessiondomain.CountSession, error) {
	return s.Lookup(ctx, s.db, id)
}

func (s *Service) Lookup(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*sessiondomain.CountSession, error) {
	if id <= 0 {
		return nil, sessiondomain.ErrInvalidID
	}
	session, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, sessiondomain.ErrNotFound
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, req sessiondomain.ListRequest) (sessiondomain.ListResponse, error) {
	filter := sessiondomain.ListFilter{StartedBy: req.StartedBy}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, err := sessiondomain.ParseStatus(raw)
		if err != nil {
			return sessiondomain.ListResponse{}, err
		}
		filter.Status = &status
	}

	reviewCfg := s.config.Get().Review
	page := req.Request.Normalize(reviewCfg.DefaultPageSize, reviewCfg.MaxPageSize)
	filter.Limit = page.Limit()
	filter.Offset = page.Offset()

	sessions, total, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return sessiondomain.ListResponse{}, err
	}
	if sessions == nil {
		sessions = []sessiondomain.CountSession{}
	}
	return sessiondomain.ListResponse{
		PageInfo: pagination.BuildPageInfo(page, total),
		Sessions: sessions,
	}, nil
}

// EndSession closes counting. Ending mid-count is allowed; ending twice is a no-op.
func (s *Service) EndSession(ctx context.Context, id snowflake.ID, actorID string) (*sessiondomain.CountSession, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, sessiondomain.ErrInvalidActor
	}

	var session *sessiondomain.CountSession
	transitioned := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.Lookup(ctx, tx, id)
		if err != nil {
			return err
		}

		switch current.Status {
		case sessiondomain.StatusCountingComplete:
			session = current
			return nil
		case sessiondomain.StatusReconciled, sessiondomain.StatusCancelled:
			return sessiondomain.ErrInvalidState
		case sessiondomain.StatusDraft, sessiondomain.StatusActive:
		default:
			return sessiondomain.ErrInvalidState
		}

		now := s.clock.Now().UTC()
		rows, err := s.repo.Transition(ctx, tx, id, sessiondomain.OpenStatuses, sessiondomain.StatusCountingComplete, map[string]any{
			"completed_at":     now,
			"last_activity_at": now,
			"updated_at":       now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return sessiondomain.ErrInvalidState
		}
		transitioned = true

		session, err = s.Lookup(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.audit.Record(ctx, auditdomain.Entry{
			SessionID:  &session.ID,
			ActorType:  auditdomain.ActorTypeCounter,
			ActorID:    actorID,
			Action:     "session.end",
			TargetType: auditdomain.TargetTypeSession,
			TargetID:   session.ID.String(),
			Metadata: map[string]any{
				"total_rolls_counted":  session.TotalRollsCounted,
				"rolls_pending_review": session.RollsPendingReview,
			},
		})
	}
	return session, nil
}

func (s *Service) CancelSession(ctx context.Context, id snowflake.ID, actorID string) (*sessiondomain.CountSession, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, sessiondomain.ErrInvalidActor
	}

	var session *sessiondomain.CountSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.Lookup(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Status.IsOpen() {
			return sessiondomain.ErrInvalidState
		}

		now := s.clock.Now().UTC()
		rows, err := s.repo.Transition(ctx, tx, id, sessiondomain.OpenStatuses, sessiondomain.StatusCancelled, map[string]any{
			"cancelled_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return sessiondomain.ErrInvalidState
		}

		session, err = s.Lookup(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &session.ID,
		ActorID:    actorID,
		Action:     "session.cancel",
		TargetType: auditdomain.TargetTypeSession,
		TargetID:   session.ID.String(),
	})
	return session, nil
}

func (s *Service) Touch(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	rows, err := s.repo.Touch(ctx, tx, id, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if rows == 0 {
		return sessiondomain.ErrInvalidState
	}
	return nil
}

func (s *Service) ApplyDelta(ctx context.Context, tx *gorm.DB, id snowflake.ID, delta sessiondomain.CounterDelta, allowed []sessiondomain.Status) error {
	if delta.IsZero() {
		return nil
	}
	rows, err := s.repo.ApplyDelta(ctx, tx, id, delta, allowed, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if rows == 0 {
		return sessiondomain.ErrInvalidState
	}
	return nil
}

// MarkReconciled is the committer's final step; it requires counting_complete and nothing pending.
func (s *Service) MarkReconciled(ctx context.Context, tx *gorm.DB, id snowflake.ID, reviewerID string, at time.Time) error {
	current, err := s.Lookup(ctx, tx, id)
	if err != nil {
		return err
	}
	if current.Status != sessiondomain.StatusCountingComplete {
		return sessiondomain.ErrInvalidState
	}
	if !current.CanComplete() {
		return sessiondomain.ErrNotReady
	}

	at = at.UTC()
	rows, err := s.repo.Transition(ctx, tx, id, []sessiondomain.Status{sessiondomain.StatusCountingComplete}, sessiondomain.StatusReconciled, map[string]any{
		"reconciled_at": at,
		"reviewed_by":   reviewerID,
		"reviewed_at":   at,
		"updated_at":    at,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return sessiondomain.ErrInvalidState
	}
	return nil
}

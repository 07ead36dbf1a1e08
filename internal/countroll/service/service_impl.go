package service

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stocktake/internal/audit/domain"
	"github.com/smallbiznis/stocktake/internal/clock"
	"github.com/smallbiznis/stocktake/internal/config"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/duplicate"
	"github.com/smallbiznis/stocktake/internal/observability/metrics"
	"github.com/smallbiznis/stocktake/internal/providers/imaging"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"github.com/smallbiznis/stocktake/internal/providers/storage"
	"github.com/smallbiznis/stocktake/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     rolldomain.Repository
	Sessions sessiondomain.Service
	Audit    auditdomain.Service
	Detector *duplicate.Detector
	Engine   ocr.Engine
	Store    storage.Store
	Config   *config.StockTakeConfigHolder `optional:"true"`
	Metrics  *metrics.Metrics              `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     rolldomain.Repository
	sessions sessiondomain.Service
	audit    auditdomain.Service
	detector *duplicate.Detector
	engine   ocr.Engine
	store    storage.Store
	config   *config.StockTakeConfigHolder
	metrics  *metrics.Metrics
}

func New(p Params) rolldomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("countroll.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		sessions: p.Sessions,
		audit:    p.Audit,
		detector: p.Detector,
		engine:   p.Engine,
		store:    p.Store,
		config:   p.Config,
		metrics:  p.Metrics,
	}
}

func (s *Service) IngestRoll(ctx context.Context, req rolldomain.IngestRequest) (*rolldomain.CountRoll, error) {
	if req.SessionID <= 0 {
		return nil, sessiondomain.ErrInvalidID
	}
	if req.Meters < 0 || math.IsNaN(req.Meters) || math.IsInf(req.Meters, 0) {
		return nil, rolldomain.ErrInvalidMeters
	}

	now := s.clock.Now().UTC()
	roll := &rolldomain.CountRoll{
		ID:                s.genID.Generate(),
		SessionID:         req.SessionID,
		CaptureSequence:   req.CaptureSequence,
		PhotoPath:         optional(req.PhotoPath),
		PhotoOriginalPath: optional(req.PhotoOriginalPath),
		CounterQuality:    duplicate.Normalize(req.Quality),
		CounterColor:      duplicate.Normalize(req.Color),
		CounterLotNumber:  duplicate.Normalize(req.LotNumber),
		CounterMeters:     req.Meters,
		IsManualEntry:     req.IsManualEntry,
		IsNotLabelWarning: req.IsNotLabelWarning,
		Status:            rolldomain.StatusPendingReview,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.OCR != nil {
		applyOCR(roll, req.OCR, now)
	} else if !roll.IsManualEntry {
		roll.IsManualEntry = true
		roll.IsManualFallback = true
	}

	autoSequence := roll.CaptureSequence <= 0
	var err error
	for attempt := 1; attempt <= rolldomain.CaptureSequenceRetries; attempt++ {
		if autoSequence {
			roll.CaptureSequence = 0
		}
		err = s.insert(ctx, roll)
		if !autoSequence || !errors.Is(err, rolldomain.ErrCaptureSequenceConflict) {
			break
		}
		s.log.Warn("capture sequence taken, retrying",
			zap.String("session_id", roll.SessionID.String()),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRollIngested(ctx, string(roll.ConfidenceLevel()), roll.IsManualEntry)
	s.log.Info("roll ingested",
		zap.String("session_id", roll.SessionID.String()),
		zap.String("roll_id", roll.ID.String()),
		zap.Int("capture_sequence", roll.CaptureSequence),
		zap.String("confidence_level", string(roll.ConfidenceLevel())),
		zap.Bool("manual_entry", roll.IsManualEntry),
		zap.Bool("possible_duplicate", roll.IsPossibleDuplicate),
	)

	metadata := map[string]any{
		"capture_sequence": roll.CaptureSequence,
		"manual_entry":     roll.IsManualEntry,
	}
	if roll.DuplicateOfRollID != nil {
		metadata["duplicate_of_roll_id"] = roll.DuplicateOfRollID.String()
	}
	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &roll.SessionID,
		ActorType:  auditdomain.ActorTypeCounter,
		ActorID:    req.CounterID,
		Action:     "roll.ingest",
		TargetType: auditdomain.TargetTypeRoll,
		TargetID:   roll.ID.String(),
		Metadata:   metadata,
	})
	return roll, nil
}

// insert assigns the capture sequence when unset, flags duplicates and writes the roll with its counter deltas.
func (s *Service) insert(ctx context.Context, roll *rolldomain.CountRoll) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.Lookup(ctx, tx, roll.SessionID)
		if err != nil {
			return err
		}
		if !session.Status.IsOpen() {
			return sessiondomain.ErrInvalidState
		}

		if roll.CaptureSequence <= 0 {
			last, err := s.repo.MaxCaptureSequence(ctx, tx, roll.SessionID)
			if err != nil {
				return err
			}
			roll.CaptureSequence = last + 1
		}

		candidates, err := s.repo.ListDuplicateCandidates(ctx, tx, roll.SessionID)
		if err != nil {
			return err
		}
		roll.IsPossibleDuplicate, roll.DuplicateOfRollID = false, nil
		if match := s.detector.Find(roll.Effective(), candidates); match != nil {
			roll.IsPossibleDuplicate = true
			roll.DuplicateOfRollID = &match.RollID
		}

		if err := s.repo.Insert(ctx, tx, roll); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return rolldomain.ErrCaptureSequenceConflict
			}
			return err
		}

		if err := s.sessions.Touch(ctx, tx, roll.SessionID); err != nil {
			return err
		}
		return s.sessions.ApplyDelta(ctx, tx, roll.SessionID,
			sessiondomain.CounterDelta{Total: 1, Pending: 1},
			sessiondomain.OpenStatuses,
		)
	})
}

// CaptureRoll stores the photo, runs OCR and ingests. Storage or OCR trouble never loses the count.
func (s *Service) CaptureRoll(ctx context.Context, req rolldomain.CaptureRequest) (*rolldomain.CountRoll, error) {
	if len(req.Image) == 0 {
		return nil, rolldomain.ErrEmptyImage
	}

	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.IsOpen() {
		return nil, sessiondomain.ErrInvalidState
	}

	photoPath, originalPath := s.storePhoto(ctx, session.SessionNumber, req.Image)
	result := s.recognize(ctx, req.Image)

	return s.IngestRoll(ctx, rolldomain.IngestRequest{
		SessionID:         req.SessionID,
		CaptureSequence:   req.CaptureSequence,
		CounterID:         req.CounterID,
		Quality:           req.Quality,
		Color:             req.Color,
		LotNumber:         req.LotNumber,
		Meters:            req.Meters,
		PhotoPath:         photoPath,
		PhotoOriginalPath: originalPath,
		OCR:               result,
		IsManualEntry:     req.IsManualEntry,
		IsNotLabelWarning: req.IsNotLabelWarning,
	})
}

func (s *Service) storePhoto(ctx context.Context, sessionNumber string, image []byte) (string, string) {
	variants, err := imaging.Variants(image)
	if err != nil {
		s.log.Warn("photo variants failed, keeping original only", zap.Error(err))
		variants = []imaging.Variant{{
			Name:        imaging.VariantOriginal,
			ContentType: http.DetectContentType(image),
			Data:        image,
		}}
	}

	stored, err := s.store.SaveVariants(ctx, sessionNumber, variants)
	if err != nil {
		s.log.Error("photo storage failed", zap.Error(err))
		return "", ""
	}

	original := stored[imaging.VariantOriginal]
	display := stored[imaging.VariantMedium]
	if display == "" {
		display = original
	}
	return display, original
}

func (s *Service) recognize(ctx context.Context, image []byte) *ocr.Result {
	input := image
	if s.config.Get().Rerun.Preprocess {
		if processed, err := imaging.Preprocess(image); err == nil {
			input = processed
		} else {
			s.log.Debug("preprocess failed, using raw image", zap.Error(err))
		}
	}

	result, err := ocr.Recognize(ctx, s.engine, input)
	if err != nil {
		outcome := "failure"
		if errors.Is(err, ocr.ErrEngineDisabled) {
			outcome = "disabled"
		} else {
			s.log.Warn("ocr failed, capture becomes manual entry", zap.String("engine", s.engine.Name()), zap.Error(err))
		}
		s.metrics.RecordOCRItem(ctx, s.engine.Name(), outcome)
		return nil
	}
	s.metrics.RecordOCRItem(ctx, s.engine.Name(), "success")
	return result
}

func (s *Service) GetRoll(ctx context.Context, id snowflake.ID) (*rolldomain.CountRoll, error) {
	if id <= 0 {
		return nil, rolldomain.ErrInvalidID
	}
	roll, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if roll == nil {
		return nil, rolldomain.ErrNotFound
	}
	return roll, nil
}

func (s *Service) ListSessionRolls(ctx context.Context, sessionID snowflake.ID, statuses ...rolldomain.Status) ([]rolldomain.CountRoll, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rolls, err := s.repo.ListBySession(ctx, s.db, sessionID, statuses...)
	if err != nil {
		return nil, err
	}
	if rolls == nil {
		rolls = []rolldomain.CountRoll{}
	}
	return rolls, nil
}

// applyOCR copies an engine result onto the roll and classifies it from the latest score.
func applyOCR(roll *rolldomain.CountRoll, result *ocr.Result, at time.Time) {
	update := rolldomain.NewOCRUpdate(result, at)
	roll.OCRQuality = update.Quality
	roll.OCRColor = update.Color
	roll.OCRLotNumber = update.LotNumber
	roll.OCRMeters = update.Meters
	roll.OCRRawText = update.RawText
	roll.OCRConfidenceScore = update.ConfidenceScore
	roll.OCRConfidenceLevel = &update.ConfidenceLevel
	roll.OCREngine = optional(update.Engine)
	roll.OCRProcessedAt = &update.ProcessedAt
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

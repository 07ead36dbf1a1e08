package providers

import (
	"fmt"

	"github.com/smallbiznis/stocktake/internal/config"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"github.com/smallbiznis/stocktake/internal/providers/ocr/gemini"
	"github.com/smallbiznis/stocktake/internal/providers/ocr/tesseract"
	"github.com/smallbiznis/stocktake/internal/providers/pdf"
	"github.com/smallbiznis/stocktake/internal/providers/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers",
	fx.Provide(NewOCREngine),
	storage.Module,
	pdf.Module,
)

// NewOCREngine selects the label recognizer from OCR_ENGINE (gemini, tesseract, none).
func NewOCREngine(cfg config.Config, log *zap.Logger) (ocr.Engine, error) {
	var (
		engine ocr.Engine
		err    error
	)
	switch cfg.OCR.Engine {
	case "gemini":
		if cfg.OCR.GeminiAPIKey == "" {
			log.Warn("GEMINI_API_KEY not set, OCR disabled; captures fall back to manual entry")
			engine = ocr.Disabled{}
			break
		}
		engine = gemini.New(cfg.OCR.GeminiAPIKey, cfg.OCR.GeminiModel)
	case "tesseract":
		engine, err = tesseract.New(cfg.OCR.Languages)
	case "none", "":
		engine = ocr.Disabled{}
	default:
		err = fmt.Errorf("unknown OCR_ENGINE %q", cfg.OCR.Engine)
	}
	if err != nil {
		return nil, err
	}
	log.Info("ocr engine selected", zap.String("engine", engine.Name()))
	return engine, nil
}

//go:build !tesseract

package tesseract

import (
	"errors"

	"github.com/smallbiznis/stocktake/internal/providers/ocr"
)

// ErrNotCompiled is returned when the binary was built without the tesseract tag.
var ErrNotCompiled = errors.New("tesseract support not compiled in; rebuild with -tags tesseract")

func New(languages []string) (ocr.Engine, error) {
	return nil, ErrNotCompiled
}

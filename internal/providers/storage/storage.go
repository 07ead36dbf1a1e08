// Package storage keeps captured roll photos on local disk and issues signed download URLs.
package storage

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/stocktake/internal/clock"
	"github.com/smallbiznis/stocktake/internal/config"
	"github.com/smallbiznis/stocktake/internal/providers/imaging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var Module = fx.Module("providers.storage",
	fx.Provide(NewLocal),
	fx.Provide(func(s *Local) Store { return s }),
)

var (
	ErrNotFound       = errors.New("photo_not_found")
	ErrInvalidPath    = errors.New("invalid_photo_path")
	ErrInvalidURL     = errors.New("invalid_signed_url")
	ErrExpiredURL     = errors.New("signed_url_expired")
	ErrSigningKeyless = errors.New("signing_key_not_configured")
)

// Store is the photo storage used by the capture pipeline and the OCR rerun.
type Store interface {
	// SaveVariants writes every variant under one object prefix and returns stored paths by variant name.
	SaveVariants(ctx context.Context, sessionNumber string, variants []imaging.Variant) (map[string]string, error)
	Get(ctx context.Context, storedPath string) ([]byte, error)
	// OriginalPath maps any stored variant path to the path of its original rendition.
	OriginalPath(storedPath string) (string, error)
	SignedURL(storedPath string) (string, error)
}

type Local struct {
	root    string
	baseURL string
	key     []byte
	ttl     time.Duration
	clock   clock.Clock
	log     *zap.Logger
}

type Params struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewLocal(p Params) (*Local, error) {
	root := strings.TrimSpace(p.Config.Storage.RootDir)
	if root == "" {
		return nil, errors.New("STORAGE_ROOT_DIR is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	ttl := time.Duration(p.Config.Storage.URLTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Local{
		root:    root,
		baseURL: p.Config.Storage.PublicBaseURL,
		key:     []byte(p.Config.Storage.SigningKey),
		ttl:     ttl,
		clock:   p.Clock,
		log:     p.Log.Named("storage.local"),
	}, nil
}

// ObjectPath builds "sessions/<session-slug>/<ulid>/<variant>.<ext>".
func ObjectPath(sessionNumber, objectID, variant, contentType string) string {
	return path.Join("sessions", slug.Make(sessionNumber), objectID, variant+extension(contentType))
}

func (s *Local) SaveVariants(ctx context.Context, sessionNumber string, variants []imaging.Variant) (map[string]string, error) {
	if len(variants) == 0 {
		return nil, errors.New("no variants to store")
	}
	objectID := strings.ToLower(ulid.Make().String())
	stored := make(map[string]string, len(variants))
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := ObjectPath(sessionNumber, objectID, v.Name, v.ContentType)
		full, err := s.resolve(rel)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, v.Data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", v.Name, err)
		}
		stored[v.Name] = rel
	}
	s.log.Debug("stored photo variants", zap.String("object_id", objectID), zap.Int("variants", len(stored)))
	return stored, nil
}

func (s *Local) Get(ctx context.Context, storedPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(storedPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, storedPath)
	}
	return data, err
}

func (s *Local) OriginalPath(storedPath string) (string, error) {
	clean, err := cleanRel(storedPath)
	if err != nil {
		return "", err
	}
	dir, file := path.Split(clean)
	if dir == "" {
		return "", ErrInvalidPath
	}
	base := strings.TrimSuffix(file, path.Ext(file))
	if base == imaging.VariantOriginal {
		return clean, nil
	}

	full, err := s.resolve(dir)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, storedPath)
		}
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.TrimSuffix(name, path.Ext(name)) == imaging.VariantOriginal {
			return path.Join(dir, name), nil
		}
	}
	// no original kept; the stored variant is the best available source
	return clean, nil
}

func (s *Local) SignedURL(storedPath string) (string, error) {
	clean, err := cleanRel(storedPath)
	if err != nil {
		return "", err
	}
	if len(s.key) == 0 {
		return "", ErrSigningKeyless
	}
	expires := s.clock.Now().Add(s.ttl).Unix()
	sig, err := s.sign(clean, expires)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", sig)
	return s.baseURL + "/" + clean + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedURL and returns the cleaned path.
func (s *Local) Verify(storedPath, expires, sig string) (string, error) {
	clean, err := cleanRel(storedPath)
	if err != nil {
		return "", err
	}
	if len(s.key) == 0 {
		return "", ErrSigningKeyless
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return "", ErrInvalidURL
	}
	want, err := s.sign(clean, exp)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return "", ErrInvalidURL
	}
	if s.clock.Now().Unix() > exp {
		return "", ErrExpiredURL
	}
	return clean, nil
}

func (s *Local) sign(clean string, expires int64) (string, error) {
	mac, err := blake2b.New256(s.key)
	if err != nil {
		return "", err
	}
	mac.Write([]byte(clean))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *Local) resolve(rel string) (string, error) {
	clean, err := cleanRel(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func cleanRel(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return clean, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	default:
		return ".bin"
	}
}

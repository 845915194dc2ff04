// Package ocr turns receipt photos into a best-effort scan that can be merged
// into a draft.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/composer"
	"github.com/noah-isme/backend-dompet/internal/obs"
	"github.com/noah-isme/backend-dompet/internal/repo"
)

const (
	defaultMaxImages   = 5
	defaultParallelism = 2
)

// CategoryLister loads the categories visible to a user.
type CategoryLister interface {
	ListCategories(ctx context.Context, userID int64) ([]repo.Category, error)
}

// Config configures the scan service.
type Config struct {
	Provider    Provider
	Categories  CategoryLister
	MaxImages   int
	Parallelism int
	Meter       metric.Meter
	Logger      zerolog.Logger
}

// Service validates images, extracts their text and parses it.
type Service struct {
	provider    Provider
	categories  CategoryLister
	parser      RulesParser
	maxImages   int
	parallelism int
	duration    metric.Float64Histogram
	log         zerolog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Provider == nil {
		return nil, errors.New("ocr: provider is required")
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter("github.com/noah-isme/backend-dompet/internal/ocr")
	}
	hist, err := meter.Float64Histogram("dompet.ocr.extract.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent extracting text from one receipt image."))
	if err != nil {
		return nil, fmt.Errorf("ocr: histogram: %w", err)
	}
	s := &Service{
		provider:    cfg.Provider,
		categories:  cfg.Categories,
		maxImages:   cfg.MaxImages,
		parallelism: cfg.Parallelism,
		duration:    hist,
		log:         cfg.Logger,
	}
	if s.maxImages <= 0 {
		s.maxImages = defaultMaxImages
	}
	if s.parallelism <= 0 {
		s.parallelism = defaultParallelism
	}
	return s, nil
}

// MaxImages is the number of images accepted per scan.
func (s *Service) MaxImages() int { return s.maxImages }

// Scan reads the receipt split across images, in order, and matches item
// names against the caller's categories.
func (s *Service) Scan(ctx context.Context, userID int64, images [][]byte) (composer.ScanResult, error) {
	if len(images) == 0 {
		obs.Inc(obs.OCRScansTotal, "invalid")
		return composer.ScanResult{}, common.Unprocessable("at least one image is required", map[string]string{"images": "is required"})
	}
	if len(images) > s.maxImages {
		obs.Inc(obs.OCRScansTotal, "invalid")
		return composer.ScanResult{}, common.Unprocessable(fmt.Sprintf("at most %d images are allowed", s.maxImages),
			map[string]string{"images": fmt.Sprintf("must contain at most %d files", s.maxImages)})
	}
	types := make([]string, len(images))
	for i, img := range images {
		ct, err := sniffImage(img)
		if err != nil {
			obs.Inc(obs.OCRScansTotal, "invalid")
			return composer.ScanResult{}, common.Unprocessable("images must be JPEG or PNG files",
				map[string]string{fmt.Sprintf("images[%d]", i): "is not a JPEG or PNG image"})
		}
		types[i] = ct
	}

	texts := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i := range images {
		g.Go(func() error {
			start := time.Now()
			text, err := s.provider.ExtractText(gctx, images[i], types[i])
			result := "ok"
			if err != nil {
				result = "error"
			}
			s.duration.Record(gctx, obs.DurationMillis(time.Since(start)), metric.WithAttributes(attribute.String("result", result)))
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		obs.Inc(obs.OCRScansTotal, "error")
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("ocr extraction failed")
		return composer.ScanResult{}, common.NewAppError("OCR_UNAVAILABLE", "receipt could not be read, try again later", http.StatusBadGateway, err)
	}

	res := s.parser.Parse(strings.Join(texts, "\n"))
	if err := s.matchCategories(ctx, userID, &res); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("ocr category matching skipped")
	}
	obs.Inc(obs.OCRScansTotal, "ok")
	return res, nil
}

func (s *Service) matchCategories(ctx context.Context, userID int64, res *composer.ScanResult) error {
	if s.categories == nil || len(res.Items) == 0 {
		return nil
	}
	rows, err := s.categories.ListCategories(ctx, userID)
	if err != nil {
		return err
	}
	cats := make([]Category, 0, len(rows))
	for _, c := range rows {
		cats = append(cats, Category{ID: c.ID, Name: c.Name})
	}
	m := NewMatcher(cats)
	for i := range res.Items {
		if res.Items[i].Name == nil {
			continue
		}
		if c, ok := m.Match(*res.Items[i].Name); ok {
			id := c.ID
			res.Items[i].CategoryID = &id
			res.Items[i].CategoryName = c.Name
		}
	}
	return nil
}

func sniffImage(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	switch format {
	case "jpeg":
		return "image/jpeg", nil
	case "png":
		return "image/png", nil
	default:
		return "", fmt.Errorf("unsupported image format %q", format)
	}
}

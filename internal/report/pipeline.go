package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"openfms/console/internal/apiclient"
	"openfms/console/internal/apperr"
)

// Strategy is one way of handling the binary report body. Several may run for one request.
type Strategy string

const (
	// StrategyDecode parses the workbook into a paginated table.
	StrategyDecode Strategy = "decode"
	// StrategyDownload offers the workbook as an attachment.
	StrategyDownload Strategy = "download"
	// StrategyPreview opens the workbook under a revocable URL for an embedded frame.
	StrategyPreview Strategy = "preview"
)

func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyDecode, StrategyDownload, StrategyPreview:
		return Strategy(s), true
	}
	return "", false
}

// BinaryFetcher issues the report GET.
type BinaryFetcher interface {
	GetBinary(ctx context.Context, path, rawQuery string) (*apiclient.Binary, error)
}

// Result is everything produced for one generated report.
type Result struct {
	Query       Query      `json:"query"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Strategies  []Strategy `json:"strategies"`
	FileName    string     `json:"fileName"`
	ContentType string     `json:"contentType"`
	Size        int        `json:"size"`
	Table       *Table     `json:"-"`
	Preview     *Preview   `json:"preview,omitempty"`
	Data        []byte     `json:"-"`

	decodeOnce sync.Once
	decodeErr  error
}

// Has reports whether strategy s ran for this result.
func (r *Result) Has(s Strategy) bool {
	return hasStrategy(r.Strategies, s)
}

// Download returns the raw workbook as an attachment.
func (r *Result) Download() Download {
	return Download{FileName: r.FileName, ContentType: r.ContentType, Data: r.Data}
}

// Decoded returns the result's table, decoding the workbook on first use when
// the decode strategy did not run.
func (p *Pipeline) Decoded(res *Result) (*Table, error) {
	if res == nil {
		return nil, apperr.ErrNoReport
	}
	res.decodeOnce.Do(func() {
		if res.Table != nil {
			return
		}
		res.Table, res.decodeErr = Decode(res.Data, p.opts.HeaderRows)
	})
	return res.Table, res.decodeErr
}

type Options struct {
	HeaderRows int
	PageSize   int
}

// Pipeline validates a report selection, fetches the workbook and hands it to the chosen strategies.
type Pipeline struct {
	backend  BinaryFetcher
	previews PreviewStore
	opts     Options
	now      func() time.Time
	logger   *zap.Logger
}

func NewPipeline(backend BinaryFetcher, previews PreviewStore, opts Options, logger *zap.Logger) *Pipeline {
	if opts.HeaderRows < 0 {
		opts.HeaderRows = DefaultHeaderRows
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		backend:  backend,
		previews: previews,
		opts:     opts,
		now:      time.Now,
		logger:   logger.Named("report"),
	}
}

func (p *Pipeline) PageSize() int { return p.opts.PageSize }

// View decodes res if needed and renders one page of it.
func (p *Pipeline) View(res *Result, page int) (View, error) {
	table, err := p.Decoded(res)
	if err != nil {
		return View{}, err
	}
	return RenderView(res.Query.Type, table, page, p.opts.PageSize), nil
}

// Generate runs the report flow. With no strategies the table is decoded.
// Validation failures return before any request is made.
func (p *Pipeline) Generate(ctx context.Context, req Request, strategies ...Strategy) (*Result, error) {
	query, err := req.Normalize(p.now())
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		strategies = []Strategy{StrategyDecode}
	}
	if hasStrategy(strategies, StrategyPreview) && p.previews == nil {
		return nil, apperr.Validation("PREVIEW_UNAVAILABLE", "Report preview is not available")
	}

	log := p.logger.With(zap.String("report", string(query.Type)), zap.String("device_id", query.DeviceID))
	bin, err := p.backend.GetBinary(ctx, query.Path(), query.RawQuery())
	if err != nil {
		log.Warn("report request failed", zap.String("url", query.String()), zap.Error(err))
		return nil, apperr.New(apperr.KindBackend, "REPORT_REQUEST_FAILED", apperr.ReportFailure, err)
	}

	res := &Result{
		Query:       query,
		GeneratedAt: p.now(),
		Strategies:  strategies,
		FileName:    FileName(query.DeviceID),
		ContentType: ContentType(bin.ContentType),
		Size:        len(bin.Data),
		Data:        bin.Data,
	}

	for _, s := range strategies {
		switch s {
		case StrategyDecode:
			if _, err := p.Decoded(res); err != nil {
				p.release(res)
				log.Warn("report decode failed", zap.Error(err))
				return nil, err
			}
		case StrategyDownload:
			// the raw workbook is kept on the result
		case StrategyPreview:
			preview, err := p.OpenPreview(ctx, res)
			if err != nil {
				return nil, err
			}
			res.Preview = preview
		default:
			p.release(res)
			return nil, apperr.Validation("UNKNOWN_STRATEGY", "Unknown report output: "+string(s))
		}
	}

	log.Info("report generated",
		zap.Int("bytes", res.Size),
		zap.Int("rows", res.Table.Len()),
		zap.Bool("preview", res.Preview != nil),
	)
	return res, nil
}

// OpenPreview opens res's workbook in the preview store. The caller owns the
// returned preview and must revoke it.
func (p *Pipeline) OpenPreview(ctx context.Context, res *Result) (*Preview, error) {
	if p.previews == nil {
		return nil, apperr.Validation("PREVIEW_UNAVAILABLE", "Report preview is not available")
	}
	preview, err := p.previews.Open(ctx, Blob{FileName: res.FileName, ContentType: res.ContentType, Data: res.Data})
	if err != nil {
		return nil, fmt.Errorf("open preview: %w", err)
	}
	return preview, nil
}

// Release revokes the result's preview, if any.
func (p *Pipeline) Release(ctx context.Context, res *Result) error {
	if res == nil || res.Preview == nil || p.previews == nil {
		return nil
	}
	err := p.previews.Revoke(ctx, res.Preview.ID)
	if err != nil && !errors.Is(err, apperr.ErrPreviewNotFound) {
		return err
	}
	return nil
}

func (p *Pipeline) release(res *Result) {
	if err := p.Release(context.Background(), res); err != nil {
		p.logger.Warn("preview release failed", zap.Error(err))
	}
}

func hasStrategy(list []Strategy, s Strategy) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

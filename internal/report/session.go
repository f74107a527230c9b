package report

import (
	"context"
	"errors"
	"sync"

	"openfms/console/internal/apperr"
)

// Session holds the latest generated report of the console. A new result
// replaces the previous one and releases its preview.
type Session struct {
	pipeline *Pipeline

	mu      sync.RWMutex
	current *Result
}

func NewSession(p *Pipeline) *Session {
	return &Session{pipeline: p}
}

// Generate runs the pipeline and keeps the result on success. A failed run
// leaves the previous result in place.
func (s *Session) Generate(ctx context.Context, req Request, strategies ...Strategy) (*Result, error) {
	res, err := s.pipeline.Generate(ctx, req, strategies...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	prev := s.current
	s.current = res
	s.mu.Unlock()

	if prev != nil {
		s.pipeline.release(prev)
	}
	return res, nil
}

func (s *Session) Current() (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, apperr.ErrNoReport
	}
	return s.current, nil
}

// Clear drops the current result and revokes its preview.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()
	return s.pipeline.Release(ctx, prev)
}

// Preview returns the preview of the current report, opening one if needed.
// It is revoked when the report is replaced or cleared.
func (s *Session) Preview(ctx context.Context) (*Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, apperr.ErrNoReport
	}
	if s.current.Preview != nil {
		return s.current.Preview, nil
	}
	preview, err := s.pipeline.OpenPreview(ctx, s.current)
	if err != nil {
		return nil, err
	}
	s.current.Preview = preview
	return preview, nil
}

// RevokePreview closes preview id. Revoking an unknown or closed preview is not an error.
func (s *Session) RevokePreview(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.current != nil && s.current.Preview != nil && s.current.Preview.ID == id {
		s.current.Preview = nil
	}
	s.mu.Unlock()
	if s.pipeline.previews == nil {
		return nil
	}
	err := s.pipeline.previews.Revoke(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrPreviewNotFound) {
		return err
	}
	return nil
}

// Previews is the store previews are served from, or nil when previews are disabled.
func (s *Session) Previews() PreviewStore {
	return s.pipeline.previews
}

// Pipeline returns the pipeline the session generates with.
func (s *Session) Pipeline() *Pipeline {
	return s.pipeline
}

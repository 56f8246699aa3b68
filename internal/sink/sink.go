// Package sink appends finished result rows to the shared results CSV.
//
// The CSV is one object shared by every participant. Append never overwrites
// blindly: it fetches the object with its version, appends the new rows to
// the fetched content and writes back only if the version is unchanged,
// re-running the whole cycle on a conflict.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/rcliao/comic-survey/internal/logger"
	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/store"
	"github.com/rcliao/comic-survey/internal/survey"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 10 * time.Second
)

// Options configures a Sink.
type Options struct {
	Key         string
	Schema      model.Schema
	MaxAttempts int
	Timeout     time.Duration // per store call
	Log         *logger.Logger
}

// Sink is the results store writer.
type Sink struct {
	store store.ObjectStore
	opts  Options
}

// New returns a Sink writing opts.Key in objs.
func New(objs store.ObjectStore, opts Options) *Sink {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Sink{store: objs, opts: opts}
}

// Schema returns the column layout the sink writes.
func (s *Sink) Schema() model.Schema { return s.opts.Schema }

// Append durably adds rows to the results object. Either the whole batch
// lands or, on error, none of it does.
func (s *Sink) Append(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.encode(rows)
	if err != nil {
		return &survey.SinkError{Kind: survey.SinkUnavailable, Err: err}
	}

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := s.tryAppend(ctx, batch)
		if err == nil {
			s.opts.Log.Info("results appended", "key", s.opts.Key, "rows", len(rows), "attempt", attempt)
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			s.opts.Log.Error("results append failed", "key", s.opts.Key, "attempt", attempt, "error", err)
			return &survey.SinkError{Kind: survey.SinkUnavailable, Attempts: attempt, Err: err}
		}
		s.opts.Log.Debug("results conflict, retrying", "key", s.opts.Key, "attempt", attempt)
	}
	s.opts.Log.Warn("results append gave up", "key", s.opts.Key, "attempts", s.opts.MaxAttempts)
	return &survey.SinkError{Kind: survey.SinkConflict, Attempts: s.opts.MaxAttempts, Err: store.ErrVersionConflict}
}

func (s *Sink) tryAppend(ctx context.Context, batch []byte) error {
	content, version, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	merged := make([]byte, 0, len(content)+len(batch)+1)
	merged = append(merged, content...)
	if len(merged) > 0 && merged[len(merged)-1] != '\n' {
		merged = append(merged, '\n')
	}
	merged = append(merged, batch...)

	putCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if _, err := s.store.Put(putCtx, s.opts.Key, merged, version); err != nil {
		return err
	}
	return nil
}

// fetch returns the current content, or a fresh header when the object does
// not exist yet.
func (s *Sink) fetch(ctx context.Context) ([]byte, int64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	obj, err := s.store.Fetch(fetchCtx, s.opts.Key)
	if errors.Is(err, store.ErrNotFound) {
		header, err := encodeRecords([][]string{s.opts.Schema.Header()})
		return header, 0, err
	}
	if err != nil {
		return nil, 0, err
	}
	if err := s.checkHeader(obj.Content); err != nil {
		return nil, 0, err
	}
	return obj.Content, obj.Version, nil
}

func (s *Sink) checkHeader(content []byte) error {
	got, err := csv.NewReader(bytes.NewReader(content)).Read()
	if err != nil {
		return fmt.Errorf("read results header: %w", err)
	}
	if want := s.opts.Schema.Header(); !slices.Equal(got, want) {
		return fmt.Errorf("results header %v does not match deployment columns %v", got, want)
	}
	return nil
}

func (s *Sink) encode(rows []model.Row) ([]byte, error) {
	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = r.Record(s.opts.Schema)
	}
	return encodeRecords(records)
}

// ReadAll returns the parsed results, header first. A store that was never
// written yields just the header.
func (s *Sink) ReadAll(ctx context.Context) ([][]string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	obj, err := s.store.Fetch(fetchCtx, s.opts.Key)
	if errors.Is(err, store.ErrNotFound) {
		return [][]string{s.opts.Schema.Header()}, nil
	}
	if err != nil {
		return nil, &survey.SinkError{Kind: survey.SinkUnavailable, Attempts: 1, Err: err}
	}

	r := csv.NewReader(bytes.NewReader(obj.Content))
	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeRecords(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

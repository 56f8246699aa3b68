// Package session implements the participant session state machine:
//
//	Intro -> LanguageAssessment -> {Presenting(i) -> Rating(i)} for i < N -> Submitted
//
// A Session only advances on participant input and does no background work.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/comic-survey/internal/logger"
	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/survey"
)

// Appender flushes finished rows to the results store.
type Appender interface {
	Append(ctx context.Context, rows []model.Row) error
}

// Config fixes the per-deployment answer options.
type Config struct {
	Levels     []model.Level
	Dimensions []model.Dimension
	Now        func() time.Time
	Log        *logger.Logger
}

func (c Config) withDefaults() Config {
	if len(c.Levels) == 0 {
		c.Levels = model.DefaultLevels
	}
	if len(c.Dimensions) == 0 {
		c.Dimensions = model.DefaultDimensions
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Log == nil {
		c.Log = logger.Nop()
	}
	return c
}

// Session holds one participant's progress and answers.
type Session struct {
	cfg         Config
	sink        Appender
	log         *logger.Logger
	participant model.Participant
	items       []model.StimulusItem
	records     []model.ResponseRecord
	state       State
	pending     []model.Row
	flushed     []model.Row
}

// NewParticipantID returns a fresh sortable participant identifier.
func NewParticipantID() string {
	return ulid.Make().String()
}

// New starts a session in Intro for a participant already assigned to a group.
func New(p model.Participant, items []model.StimulusItem, sink Appender, cfg Config) (*Session, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("participant id is required")
	}
	if p.Group == "" {
		return nil, fmt.Errorf("participant %s has no group", p.ID)
	}
	if len(items) == 0 {
		return nil, &survey.CatalogError{Root: string(p.Group), Err: fmt.Errorf("no items")}
	}
	cfg = cfg.withDefaults()

	records := make([]model.ResponseRecord, len(items))
	for i, it := range items {
		records[i] = model.ResponseRecord{ItemID: it.ID, Filename: it.Filename}
	}

	return &Session{
		cfg:         cfg,
		sink:        sink,
		log:         cfg.Log.With("participant_id", p.ID, "group", p.Group),
		participant: p,
		items:       append([]model.StimulusItem(nil), items...),
		records:     records,
		state:       State{Kind: Intro},
	}, nil
}

// Start leaves the intro and captures the session start time.
func (s *Session) Start() error {
	if _, err := s.expect(Intro); err != nil {
		return err
	}
	s.participant.StartedAt = s.cfg.Now().UTC()
	s.moveTo(State{Kind: LanguageAssessment})
	return nil
}

// ChooseLevel records the self-assessed language level and shows the first item.
func (s *Session) ChooseLevel(level model.Level) error {
	if _, err := s.expect(LanguageAssessment); err != nil {
		return err
	}
	if !model.ValidLevel(s.cfg.Levels, level) {
		return &survey.ValidationError{Field: "english_level", Reason: fmt.Sprintf("Bitte wählen Sie eine der Stufen: %s.", joinLevels(s.cfg.Levels))}
	}
	s.participant.Level = level
	s.moveTo(State{Kind: Presenting, Index: 0})
	return nil
}

// SubmitDescription stores the free-text description of the current item.
// An empty description leaves the state and the record untouched.
func (s *Session) SubmitDescription(text string, knownBefore *bool) error {
	i, err := s.expect(Presenting)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return &survey.ValidationError{Field: "description", Reason: "Bitte beschreiben Sie den Inhalt in einem Satz."}
	}

	rec := &s.records[i]
	rec.Description = text
	if knownBefore != nil {
		v := *knownBefore
		rec.KnownBefore = &v
	}
	s.moveTo(State{Kind: Rating, Index: i})
	return nil
}

// SubmitRatings stores the ratings of the current item, queues its result
// row and moves on to the next item or to Submitted.
func (s *Session) SubmitRatings(ratings map[model.Dimension]int) error {
	i, err := s.expect(Rating)
	if err != nil {
		return err
	}
	if err := validateRatings(s.cfg.Dimensions, ratings); err != nil {
		return err
	}

	rec := &s.records[i]
	rec.Ratings = make(map[model.Dimension]int, len(s.cfg.Dimensions))
	for _, d := range s.cfg.Dimensions {
		rec.Ratings[d] = ratings[d]
	}
	if !rec.Complete(s.cfg.Dimensions) {
		return &survey.StateError{State: s.state.String(), Reason: "rating an item without a description"}
	}
	s.pending = append(s.pending, s.snapshot(i))

	if i+1 < len(s.items) {
		s.moveTo(State{Kind: Presenting, Index: i + 1})
	} else {
		s.moveTo(State{Kind: Submitted})
	}
	return nil
}

// Flush appends the pending rows to the results store. It is safe to call
// again after a failure; with nothing pending it succeeds without writing.
func (s *Session) Flush(ctx context.Context) error {
	if _, err := s.expect(Submitted); err != nil {
		return err
	}
	if len(s.pending) == 0 {
		return nil
	}
	if s.sink == nil {
		return &survey.SinkError{Kind: survey.SinkUnavailable, Err: fmt.Errorf("no results sink configured")}
	}
	if err := s.sink.Append(ctx, s.pending); err != nil {
		s.log.Warn("flush failed, answers kept", "rows", len(s.pending), "error", err)
		return err
	}
	s.log.Info("session flushed", "rows", len(s.pending))
	s.flushed = append(s.flushed, s.pending...)
	s.pending = nil
	return nil
}

// Item returns the item shown in the current Presenting or Rating step.
func (s *Session) Item() (model.StimulusItem, error) {
	if !s.state.Kind.indexed() {
		return model.StimulusItem{}, &survey.StateError{State: s.state.String(), Reason: "no item in this step"}
	}
	i, err := s.expect(s.state.Kind)
	if err != nil {
		return model.StimulusItem{}, err
	}
	return s.items[i], nil
}

func (s *Session) State() State                   { return s.state }
func (s *Session) Participant() model.Participant { return s.participant }
func (s *Session) Total() int                     { return len(s.items) }
func (s *Session) Levels() []model.Level          { return s.cfg.Levels }
func (s *Session) Dimensions() []model.Dimension  { return s.cfg.Dimensions }

// Records returns a copy of the per-item answers.
func (s *Session) Records() []model.ResponseRecord {
	return append([]model.ResponseRecord(nil), s.records...)
}

// Pending returns the rows not yet flushed.
func (s *Session) Pending() []model.Row {
	return append([]model.Row(nil), s.pending...)
}

// Flushed returns the rows confirmed by the results store.
func (s *Session) Flushed() []model.Row {
	return append([]model.Row(nil), s.flushed...)
}

// expect checks the current step kind and, for indexed steps, that the index
// points at a catalog item.
func (s *Session) expect(k Kind) (int, error) {
	if s.state.Kind != k {
		return 0, &survey.StateError{State: s.state.String(), Reason: fmt.Sprintf("expected %s", k)}
	}
	if k.indexed() && (s.state.Index < 0 || s.state.Index >= len(s.items)) {
		return 0, &survey.StateError{State: s.state.String(), Reason: fmt.Sprintf("item index out of range [0,%d)", len(s.items))}
	}
	return s.state.Index, nil
}

func (s *Session) moveTo(next State) {
	s.log.Debug("step", "from", s.state.String(), "to", next.String())
	s.state = next
}

func (s *Session) snapshot(i int) model.Row {
	rec := s.records[i]
	ratings := make(map[model.Dimension]int, len(rec.Ratings))
	for d, v := range rec.Ratings {
		ratings[d] = v
	}
	return model.Row{
		Timestamp:     s.cfg.Now().UTC(),
		ParticipantID: s.participant.ID,
		Level:         s.participant.Level,
		Group:         s.participant.Group,
		ItemIndex:     i + 1,
		Filename:      rec.Filename,
		Description:   rec.Description,
		KnownBefore:   rec.KnownBefore,
		Ratings:       ratings,
		SessionStart:  s.participant.StartedAt,
	}
}

func validateRatings(dims []model.Dimension, ratings map[model.Dimension]int) error {
	for _, d := range dims {
		v, ok := ratings[d]
		if !ok {
			return &survey.ValidationError{Field: string(d), Reason: fmt.Sprintf("Bitte bewerten Sie %q.", d)}
		}
		if v < model.MinRating || v > model.MaxRating {
			return &survey.ValidationError{Field: string(d), Reason: fmt.Sprintf("%q muss zwischen %d und %d liegen.", d, model.MinRating, model.MaxRating)}
		}
	}
	if len(ratings) != len(dims) {
		for d := range ratings {
			known := false
			for _, want := range dims {
				known = known || d == want
			}
			if !known {
				return &survey.ValidationError{Field: string(d), Reason: fmt.Sprintf("Unbekannte Frage %q.", d)}
			}
		}
	}
	return nil
}

func joinLevels(levels []model.Level) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ")
}

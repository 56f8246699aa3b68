package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/survey"
)

// Assigner hands out a group per participant.
type Assigner interface {
	Assign(ctx context.Context) (model.Group, error)
}

// Catalog resolves the items of a group.
type Catalog interface {
	ItemsFor(ctx context.Context, g model.Group) ([]model.StimulusItem, error)
}

// Factory creates sessions from the shared collaborators.
type Factory struct {
	Assigner Assigner
	Catalog  Catalog
	Sink     Appender
	Config   Config
}

// NewSession assigns a group exactly once and resolves its items. Failures
// are StoreError or CatalogError; no step runs without both. The group count
// is already persisted when ItemsFor fails, so counters can exceed the
// number of sessions that started.
func (f *Factory) NewSession(ctx context.Context) (*Session, error) {
	g, err := f.Assigner.Assign(ctx)
	if err != nil {
		return nil, err
	}
	items, err := f.Catalog.ItemsFor(ctx, g)
	if err != nil {
		return nil, err
	}
	p := model.Participant{ID: NewParticipantID(), Group: g}
	return New(p, items, f.Sink, f.Config)
}

// ItemAnswer is what the participant enters while an item is shown.
type ItemAnswer struct {
	Description string
	KnownBefore *bool
}

// Presenter renders steps and collects raw participant input.
type Presenter interface {
	ShowIntro(ctx context.Context) error
	AskLanguageLevel(ctx context.Context, levels []model.Level) (model.Level, error)
	ShowItem(ctx context.Context, item model.StimulusItem, index, total int) (ItemAnswer, error)
	AskRatings(ctx context.Context, item model.StimulusItem, dims []model.Dimension) (map[model.Dimension]int, error)
	// ShowProblem re-prompts after rejected input.
	ShowProblem(ctx context.Context, msg string) error
	ShowCompletion(ctx context.Context, rows []model.Row) error
	// ShowFailure displays a blocking or submission error message.
	ShowFailure(ctx context.Context, msg string) error
	// ConfirmRetry asks whether a failed submission should be sent again.
	ConfirmRetry(ctx context.Context) (bool, error)
}

// Outcome is how a driven session ended.
type Outcome int

const (
	OutcomeCompleted   Outcome = iota // submitted and confirmed by the store
	OutcomeFlushFailed                // answers kept in memory, submission failed
	OutcomeSetupFailed                // no group or no content
	OutcomeAborted                    // broken state or presenter gone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFlushFailed:
		return "flush_failed"
	case OutcomeSetupFailed:
		return "setup_failed"
	case OutcomeAborted:
		return "aborted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Run sets up a session and drives it to the end.
func Run(ctx context.Context, f *Factory, p Presenter) (Outcome, *Session, error) {
	s, err := f.NewSession(ctx)
	if err != nil {
		_ = p.ShowFailure(ctx, survey.UserMessage(err))
		return OutcomeSetupFailed, nil, err
	}
	out, err := Drive(ctx, s, p)
	return out, s, err
}

// Drive advances s one step per participant answer until it is submitted
// and flushed, the participant declines a retry, or the session breaks.
func Drive(ctx context.Context, s *Session, p Presenter) (Outcome, error) {
	for {
		var err error
		switch st := s.State(); st.Kind {
		case Intro:
			if err = p.ShowIntro(ctx); err != nil {
				return OutcomeAborted, err
			}
			err = s.Start()

		case LanguageAssessment:
			var lvl model.Level
			if lvl, err = p.AskLanguageLevel(ctx, s.Levels()); err != nil {
				return OutcomeAborted, err
			}
			err = s.ChooseLevel(lvl)

		case Presenting:
			item, ierr := s.Item()
			if ierr != nil {
				err = ierr
				break
			}
			var ans ItemAnswer
			if ans, err = p.ShowItem(ctx, item, st.Index, s.Total()); err != nil {
				return OutcomeAborted, err
			}
			err = s.SubmitDescription(ans.Description, ans.KnownBefore)

		case Rating:
			item, ierr := s.Item()
			if ierr != nil {
				err = ierr
				break
			}
			var ratings map[model.Dimension]int
			if ratings, err = p.AskRatings(ctx, item, s.Dimensions()); err != nil {
				return OutcomeAborted, err
			}
			err = s.SubmitRatings(ratings)

		case Submitted:
			ferr := s.Flush(ctx)
			if ferr == nil {
				if err := p.ShowCompletion(ctx, s.Flushed()); err != nil {
					return OutcomeCompleted, err
				}
				return OutcomeCompleted, nil
			}
			if errors.Is(ferr, survey.ErrState) {
				err = ferr
				break
			}
			if perr := p.ShowFailure(ctx, survey.UserMessage(ferr)); perr != nil {
				return OutcomeFlushFailed, ferr
			}
			retry, perr := p.ConfirmRetry(ctx)
			if perr != nil || !retry {
				return OutcomeFlushFailed, ferr
			}
			continue

		default:
			err = &survey.StateError{State: st.String(), Reason: "unknown step"}
		}

		if err == nil {
			continue
		}
		if errors.Is(err, survey.ErrValidation) {
			if perr := p.ShowProblem(ctx, survey.UserMessage(err)); perr != nil {
				return OutcomeAborted, perr
			}
			continue
		}
		_ = p.ShowFailure(ctx, survey.UserMessage(err))
		return OutcomeAborted, err
	}
}

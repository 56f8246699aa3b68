package session

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/survey"
)

// scripted answers each prompt from a queue and records what it was shown.
type scripted struct {
	levels   []model.Level
	answers  []ItemAnswer
	ratings  []map[model.Dimension]int
	retries  []bool
	problems []string
	failures []string
	shown    []int
	done     []model.Row
}

func (s *scripted) ShowIntro(context.Context) error { return nil }

func (s *scripted) AskLanguageLevel(context.Context, []model.Level) (model.Level, error) {
	if len(s.levels) == 0 {
		return "", io.EOF
	}
	l := s.levels[0]
	s.levels = s.levels[1:]
	return l, nil
}

func (s *scripted) ShowItem(_ context.Context, _ model.StimulusItem, index, _ int) (ItemAnswer, error) {
	if len(s.answers) == 0 {
		return ItemAnswer{}, io.EOF
	}
	s.shown = append(s.shown, index)
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scripted) AskRatings(context.Context, model.StimulusItem, []model.Dimension) (map[model.Dimension]int, error) {
	if len(s.ratings) == 0 {
		return nil, io.EOF
	}
	r := s.ratings[0]
	s.ratings = s.ratings[1:]
	return r, nil
}

func (s *scripted) ShowProblem(_ context.Context, msg string) error {
	s.problems = append(s.problems, msg)
	return nil
}

func (s *scripted) ShowCompletion(_ context.Context, rows []model.Row) error {
	s.done = rows
	return nil
}

func (s *scripted) ShowFailure(_ context.Context, msg string) error {
	s.failures = append(s.failures, msg)
	return nil
}

func (s *scripted) ConfirmRetry(context.Context) (bool, error) {
	if len(s.retries) == 0 {
		return false, nil
	}
	r := s.retries[0]
	s.retries = s.retries[1:]
	return r, nil
}

func TestDriveWithRePrompts(t *testing.T) {
	sk := &recordingSink{}
	s := newSession(t, sk)
	p := &scripted{
		levels:  []model.Level{"Perfekt", "Gut"},
		answers: []ItemAnswer{{Description: "  "}, {Description: "Mann rennt."}, {Description: "Frau liest."}},
		ratings: []map[model.Dimension]int{ratingsOf(1, 2), ratingsOf(1, 2, 3, 4), ratingsOf(5, 4, 3, 2)},
	}

	out, err := Drive(context.Background(), s, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out)
	assert.Len(t, p.problems, 3, "bad level, empty description, missing ratings")
	assert.Equal(t, []int{0, 0, 1}, p.shown)
	require.Len(t, p.done, 2)
	assert.Equal(t, "Frau liest.", p.done[1].Description)
	require.Len(t, sk.batches, 1)
}

type flakySink struct {
	fails int
	calls int
	rows  []model.Row
}

func (f *flakySink) Append(_ context.Context, rows []model.Row) error {
	f.calls++
	if f.calls <= f.fails {
		return &survey.SinkError{Kind: survey.SinkUnavailable, Attempts: 1, Err: errors.New("503")}
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func fullScript() *scripted {
	return &scripted{
		levels:  []model.Level{"Gut"},
		answers: []ItemAnswer{{Description: "a"}, {Description: "b"}},
		ratings: []map[model.Dimension]int{ratingsOf(1, 1, 1, 1), ratingsOf(2, 2, 2, 2)},
	}
}

func TestDriveRetriesFailedSubmission(t *testing.T) {
	sk := &flakySink{fails: 1}
	p := fullScript()
	p.retries = []bool{true}

	out, err := Drive(context.Background(), newSession(t, sk), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out)
	assert.Equal(t, []string{survey.MsgSubmissionFailed}, p.failures)
	assert.Len(t, sk.rows, 2)
}

func TestDriveKeepsAnswersWhenRetryDeclined(t *testing.T) {
	sk := &flakySink{fails: 10}
	s := newSession(t, sk)

	out, err := Drive(context.Background(), s, fullScript())
	assert.Equal(t, OutcomeFlushFailed, out)
	assert.ErrorIs(t, err, survey.ErrSinkUnavailable)
	assert.Len(t, s.Pending(), 2)
}

func TestDriveAbortsWhenPresenterGoesAway(t *testing.T) {
	p := fullScript()
	p.answers = p.answers[:1]
	sk := &recordingSink{}

	out, err := Drive(context.Background(), newSession(t, sk), p)
	assert.Equal(t, OutcomeAborted, out)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, sk.batches, "abandoned sessions never flush")
}

func TestDriveAbortsOnTamperedState(t *testing.T) {
	s := newSession(t, &recordingSink{})
	toFirstItem(t, s)
	s.state = State{Kind: Rating, Index: 7}
	p := fullScript()

	out, err := Drive(context.Background(), s, p)
	assert.Equal(t, OutcomeAborted, out)
	assert.ErrorIs(t, err, survey.ErrState)
	assert.Equal(t, []string{survey.MsgSessionBroken}, p.failures)
}

type fixedAssigner struct {
	g     model.Group
	err   error
	calls int
}

func (f *fixedAssigner) Assign(context.Context) (model.Group, error) {
	f.calls++
	return f.g, f.err
}

type fixedCatalog struct {
	items []model.StimulusItem
	err   error
}

func (f fixedCatalog) ItemsFor(_ context.Context, g model.Group) ([]model.StimulusItem, error) {
	return f.items, f.err
}

func TestRunAssignsOnce(t *testing.T) {
	fa := &fixedAssigner{g: "A"}
	sk := &recordingSink{}
	f := &Factory{Assigner: fa, Catalog: fixedCatalog{items: groupAItems()}, Sink: sk}

	out, s, err := Run(context.Background(), f, fullScript())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out)
	assert.Equal(t, 1, fa.calls)
	assert.Equal(t, model.Group("A"), s.Participant().Group)
	assert.NotEmpty(t, s.Participant().ID)
}

func TestRunSetupFailures(t *testing.T) {
	cases := []struct {
		name string
		f    *Factory
		want error
		msg  string
	}{
		{
			name: "store",
			f: &Factory{
				Assigner: &fixedAssigner{err: &survey.StoreError{Op: "load", Err: errors.New("corrupt")}},
				Catalog:  fixedCatalog{items: groupAItems()},
			},
			want: survey.ErrStore,
			msg:  survey.MsgNoGroup,
		},
		{
			name: "catalog",
			f: &Factory{
				Assigner: &fixedAssigner{g: "A"},
				Catalog:  fixedCatalog{err: &survey.CatalogError{Root: "Images", Err: errors.New("missing")}},
			},
			want: survey.ErrCatalog,
			msg:  survey.MsgNoContent,
		},
	}
	for _, tc := range cases {
		p := fullScript()
		out, s, err := Run(context.Background(), tc.f, p)
		assert.Equal(t, OutcomeSetupFailed, out, tc.name)
		assert.Nil(t, s, tc.name)
		assert.ErrorIs(t, err, tc.want, tc.name)
		assert.Equal(t, []string{tc.msg}, p.failures, tc.name)
	}
}

func TestNewSessionKeepsAssignmentWhenCatalogFails(t *testing.T) {
	fa := &fixedAssigner{g: "B"}
	f := &Factory{
		Assigner: fa,
		Catalog:  fixedCatalog{err: &survey.CatalogError{Root: "Images", Err: errors.New("no items for group B")}},
	}

	s, err := f.NewSession(context.Background())
	assert.Nil(t, s)
	assert.ErrorIs(t, err, survey.ErrCatalog)
	assert.Equal(t, 1, fa.calls, "the group was assigned before the catalog lookup failed")
}

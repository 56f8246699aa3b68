package session

import (
	"time"

	"github.com/rcliao/comic-survey/internal/model"
)

// View is a serialisable snapshot of a session for transports.
type View struct {
	ParticipantID string              `json:"participant_id"`
	Group         model.Group         `json:"group"`
	Level         model.Level         `json:"english_level,omitempty"`
	StartedAt     *time.Time          `json:"session_start,omitempty"`
	State         string              `json:"state"`
	Step          string              `json:"step"`
	ItemIndex     *int                `json:"item_index,omitempty"`
	Total         int                 `json:"total"`
	Item          *model.StimulusItem `json:"item,omitempty"`
	Levels        []model.Level       `json:"levels,omitempty"`
	Dimensions    []model.Dimension   `json:"dimensions,omitempty"`
	Pending       int                 `json:"pending_rows"`
	Flushed       int                 `json:"flushed_rows"`
}

// View describes the session as the participant currently sees it.
func (s *Session) View() View {
	v := View{
		ParticipantID: s.participant.ID,
		Group:         s.participant.Group,
		Level:         s.participant.Level,
		State:         s.state.String(),
		Step:          s.state.Kind.String(),
		Total:         len(s.items),
		Pending:       len(s.pending),
		Flushed:       len(s.flushed),
	}
	if !s.participant.StartedAt.IsZero() {
		t := s.participant.StartedAt
		v.StartedAt = &t
	}
	switch s.state.Kind {
	case LanguageAssessment:
		v.Levels = s.cfg.Levels
	case Rating:
		v.Dimensions = s.cfg.Dimensions
	}
	if s.state.Kind.indexed() {
		idx := s.state.Index
		v.ItemIndex = &idx
		if item, err := s.Item(); err == nil {
			v.Item = &item
		}
	}
	return v
}

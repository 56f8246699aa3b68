// Package model defines the core survey data types.
package model

import (
	"path"
	"strconv"
	"strings"
	"time"
)

// Group is an experimental condition bucket.
type Group string

// Level is a self-reported language proficiency level.
type Level string

// Dimension names a fixed 1-5 rating axis.
type Dimension string

// Rating scale bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// DefaultGroups are the groups used when no config overrides them.
var DefaultGroups = []Group{"A", "B", "C"}

// DefaultLevels are the five proficiency levels, best first.
var DefaultLevels = []Level{"Sehr gut", "Gut", "Mittel", "Schlecht", "Sehr schlecht"}

// DefaultDimensions are the rating axes asked for every item.
var DefaultDimensions = []Dimension{"comprehensibility", "processing_speed", "boredom", "excitement"}

// StimulusItem is one unit of content shown to and rated by a participant.
type StimulusItem struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Group    Group  `json:"group"`
}

// NewStimulusItem derives an item from its content filename.
func NewStimulusItem(filename string, g Group) StimulusItem {
	base := path.Base(filename)
	return StimulusItem{
		ID:       strings.TrimSuffix(base, path.Ext(base)),
		Filename: base,
		Group:    g,
	}
}

// Participant is one survey taker. Group never changes once assigned.
type Participant struct {
	ID        string    `json:"id"`
	Group     Group     `json:"group"`
	Level     Level     `json:"level,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// ResponseRecord collects the answers given for one stimulus item.
type ResponseRecord struct {
	ItemID      string            `json:"item_id"`
	Filename    string            `json:"filename"`
	Description string            `json:"description,omitempty"`
	KnownBefore *bool             `json:"known_before,omitempty"`
	Ratings     map[Dimension]int `json:"ratings,omitempty"`
}

// Complete reports whether both the text step and the rating step were collected.
func (r ResponseRecord) Complete(dims []Dimension) bool {
	if strings.TrimSpace(r.Description) == "" {
		return false
	}
	for _, d := range dims {
		v, ok := r.Ratings[d]
		if !ok || v < MinRating || v > MaxRating {
			return false
		}
	}
	return true
}

// Row is the flat snapshot appended to the results store per rated item.
type Row struct {
	Timestamp     time.Time
	ParticipantID string
	Level         Level
	Group         Group
	ItemIndex     int // 1-based
	Filename      string
	Description   string
	KnownBefore   *bool
	Ratings       map[Dimension]int
	SessionStart  time.Time
}

// Schema fixes the results column set for a deployment.
type Schema struct {
	Dimensions  []Dimension
	KnownBefore bool
}

// Header returns the CSV header row.
func (s Schema) Header() []string {
	h := []string{"timestamp", "participant_id", "english_level", "group", "item_index", "filename", "description"}
	if s.KnownBefore {
		h = append(h, "known_before")
	}
	for _, d := range s.Dimensions {
		h = append(h, "rating_"+string(d))
	}
	return append(h, "session_start")
}

// Record encodes the row in header order.
func (r Row) Record(s Schema) []string {
	rec := []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.ParticipantID,
		string(r.Level),
		string(r.Group),
		strconv.Itoa(r.ItemIndex),
		r.Filename,
		r.Description,
	}
	if s.KnownBefore {
		known := ""
		if r.KnownBefore != nil {
			known = strconv.FormatBool(*r.KnownBefore)
		}
		rec = append(rec, known)
	}
	for _, d := range s.Dimensions {
		rec = append(rec, strconv.Itoa(r.Ratings[d]))
	}
	return append(rec, r.SessionStart.UTC().Format(time.RFC3339))
}

// ValidLevel reports whether l is one of levels.
func ValidLevel(levels []Level, l Level) bool {
	for _, v := range levels {
		if v == l {
			return true
		}
	}
	return false
}

// ValidGroup reports whether g is one of groups.
func ValidGroup(groups []Group, g Group) bool {
	for _, v := range groups {
		if v == g {
			return true
		}
	}
	return false
}

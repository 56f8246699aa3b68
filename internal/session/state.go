package session

import "fmt"

// Kind tags a session step.
type Kind int

const (
	Intro Kind = iota
	LanguageAssessment
	Presenting
	Rating
	Submitted
)

var kindNames = map[Kind]string{
	Intro:              "intro",
	LanguageAssessment: "language_assessment",
	Presenting:         "presenting",
	Rating:             "rating",
	Submitted:          "submitted",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// State is the current step. Index is meaningful for Presenting and Rating only.
type State struct {
	Kind  Kind
	Index int
}

func (s State) String() string {
	if s.Kind.indexed() {
		return fmt.Sprintf("%s(%d)", s.Kind, s.Index)
	}
	return s.Kind.String()
}

func (k Kind) indexed() bool {
	return k == Presenting || k == Rating
}

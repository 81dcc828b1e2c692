package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type EntrantKind string

const (
	EntrantIndividual EntrantKind = "individual"
	EntrantPair       EntrantKind = "pair"
)

func (k EntrantKind) Valid() bool {
	return k == EntrantIndividual || k == EntrantPair
}

var (
	ErrEntrantKindInvalid    = errors.New("entrant kind must be 'individual' or 'pair'")
	ErrEntrantMembersInvalid = errors.New("entrant member count does not match its kind")
	ErrEntrantNameRequired   = errors.New("entrant member name is required")
)

// Member is a single player. Ranking is a handicap-style value: lower is stronger.
type Member struct {
	Name    string  `json:"name"`
	Ranking float64 `json:"ranking"`
}

// Competitor is the tagged variant behind an Entrant: Individual or Pair.
type Competitor interface {
	Kind() EntrantKind
	EffectiveRanking() float64
	Members() []Member
	isCompetitor()
}

type Individual struct {
	Member Member
}

func (i Individual) Kind() EntrantKind         { return EntrantIndividual }
func (i Individual) EffectiveRanking() float64 { return i.Member.Ranking }
func (i Individual) Members() []Member         { return []Member{i.Member} }
func (Individual) isCompetitor()               {}

// Pair is two members competing together; its ranking is the members' average.
type Pair struct {
	A Member
	B Member
}

func (p Pair) Kind() EntrantKind         { return EntrantPair }
func (p Pair) EffectiveRanking() float64 { return (p.A.Ranking + p.B.Ranking) / 2 }
func (p Pair) Members() []Member         { return []Member{p.A, p.B} }
func (Pair) isCompetitor()               {}

type Entrant struct {
	ID          int
	DisplayName string
	Competitor  Competitor
}

// NewCompetitor builds the variant matching kind from its members.
func NewCompetitor(kind EntrantKind, members []Member) (Competitor, error) {
	for _, m := range members {
		if strings.TrimSpace(m.Name) == "" {
			return nil, ErrEntrantNameRequired
		}
	}
	switch kind {
	case EntrantIndividual:
		if len(members) != 1 {
			return nil, fmt.Errorf("%w: individual needs 1 member, got %d", ErrEntrantMembersInvalid, len(members))
		}
		return Individual{Member: members[0]}, nil
	case EntrantPair:
		if len(members) != 2 {
			return nil, fmt.Errorf("%w: pair needs 2 members, got %d", ErrEntrantMembersInvalid, len(members))
		}
		return Pair{A: members[0], B: members[1]}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrEntrantKindInvalid, kind)
	}
}

func (e Entrant) Kind() EntrantKind {
	if e.Competitor == nil {
		return ""
	}
	return e.Competitor.Kind()
}

func (e Entrant) EffectiveRanking() float64 {
	if e.Competitor == nil {
		return 0
	}
	return e.Competitor.EffectiveRanking()
}

// Name falls back to the member names when no display name was given.
func (e Entrant) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	if e.Competitor == nil {
		return fmt.Sprintf("Entrant %d", e.ID)
	}
	names := make([]string, 0, 2)
	for _, m := range e.Competitor.Members() {
		names = append(names, m.Name)
	}
	return strings.Join(names, " / ")
}

type entrantJSON struct {
	ID          int         `json:"id"`
	DisplayName string      `json:"display_name"`
	Kind        EntrantKind `json:"kind"`
	Ranking     float64     `json:"ranking"`
	Members     []Member    `json:"members"`
}

func (e Entrant) MarshalJSON() ([]byte, error) {
	out := entrantJSON{
		ID:          e.ID,
		DisplayName: e.Name(),
		Kind:        e.Kind(),
		Ranking:     e.EffectiveRanking(),
		Members:     []Member{},
	}
	if e.Competitor != nil {
		out.Members = e.Competitor.Members()
	}
	return json.Marshal(out)
}

func (e *Entrant) UnmarshalJSON(data []byte) error {
	var in entrantJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	competitor, err := NewCompetitor(in.Kind, in.Members)
	if err != nil {
		return err
	}
	e.ID = in.ID
	e.DisplayName = in.DisplayName
	e.Competitor = competitor
	return nil
}

// Package catalog holds the practice lessons: categories of numbered lessons,
// each with FEN lists per difficulty level.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/cheese-puzzle/internal/puzzle"
)

//go:embed lessons.yaml
var defaultLessons []byte

var (
	ErrLessonNotFound    = errors.New("lesson not found")
	ErrLessonUnavailable = errors.New("lesson has no playable positions")
	ErrUnknownLevel      = errors.New("unknown level")
)

type Level string

const (
	Beginner     Level = "beginner"
	Intermediate Level = "intermediate"
	Advanced     Level = "advanced"
)

var Levels = []Level{Beginner, Intermediate, Advanced}

func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case Beginner, "":
		return Beginner, nil
	case Intermediate:
		return Intermediate, nil
	case Advanced:
		return Advanced, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

type Lesson struct {
	Number   int                `yaml:"number" json:"number"`
	Title    string             `yaml:"title" json:"title"`
	FENs     map[Level][]string `yaml:"fens" json:"-"`
	Category string             `yaml:"-" json:"category"`
	// Available lists the levels with at least one valid position.
	Available []Level `yaml:"-" json:"available"`
}

type Category struct {
	Name    string   `yaml:"name" json:"name"`
	Lessons []Lesson `yaml:"lessons" json:"lessons"`
}

type Catalog struct {
	Categories []Category `yaml:"categories" json:"categories"`
	byNumber   map[int]*Lesson
}

// Load reads the embedded lessons, or path when it is set.
func Load(path string) (*Catalog, error) {
	raw := defaultLessons
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read lessons: %w", err)
		}
		raw = b
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse lessons: %w", err)
	}
	c.byNumber = make(map[int]*Lesson)
	for ci := range c.Categories {
		cat := &c.Categories[ci]
		for li := range cat.Lessons {
			l := &cat.Lessons[li]
			if _, dup := c.byNumber[l.Number]; dup {
				return nil, fmt.Errorf("duplicate lesson number %d", l.Number)
			}
			l.Category = cat.Name
			for _, lvl := range Levels {
				if _, err := puzzle.ParsePositionSet(strings.Join(l.FENs[lvl], "\n")); err == nil {
					l.Available = append(l.Available, lvl)
				}
			}
			c.byNumber[l.Number] = l
		}
	}
	return &c, nil
}

func (c *Catalog) Lesson(number int) (Lesson, bool) {
	l, ok := c.byNumber[number]
	if !ok {
		return Lesson{}, false
	}
	return *l, true
}

// Lessons returns every lesson ordered by number.
func (c *Catalog) Lessons() []Lesson {
	out := make([]Lesson, 0, len(c.byNumber))
	for _, l := range c.byNumber {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// PositionSet builds the puzzle set for a lesson level, labelled
// "<title> | <level>".
func (c *Catalog) PositionSet(number int, level Level) (puzzle.ParseResult, error) {
	l, ok := c.byNumber[number]
	if !ok {
		return puzzle.ParseResult{}, fmt.Errorf("%w: %d", ErrLessonNotFound, number)
	}
	res, err := puzzle.ParsePositionSet(strings.Join(l.FENs[level], "\n"))
	if err != nil {
		return res, fmt.Errorf("%w: %s (%s): %w", ErrLessonUnavailable, l.Title, level, err)
	}
	res.Set.Title = l.Title
	res.Set.Level = string(level)
	return res, nil
}

package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	StarType     = "star"
	StarIdentity = "starIdentity"

	MaxStarNameLength = 50
)

// Star is the entity a createStar job brings into existence.
type Star struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

func StarKey(id int64) string { return StarType + "-" + strconv.FormatInt(id, 10) }

func (s *Star) Key() string { return StarKey(s.ID) }

// Validate enforces the name rules applied at submission.
func (s *Star) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return errors.New("star name is required")
	}
	if utf8.RuneCountInString(s.Name) > MaxStarNameLength {
		return fmt.Errorf("star name must be at most %d characters", MaxStarNameLength)
	}
	return nil
}

package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxLevels         = 100
	maxLevelID        = 1000
	maxQuestionLength = 2000
	maxHintLength     = 1000
	maxLevelPoints    = 10000
)

// ParseHuntDefinition decodes a hunt file and validates it. A decode failure is
// returned as a ValidationError so callers can show it next to the other problems.
func ParseHuntDefinition(data []byte) (HuntDefinition, error) {
	var def HuntDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return HuntDefinition{}, &ValidationError{Problems: []string{"Hunt data must be a valid JSON object: " + err.Error()}}
	}
	if problems := ValidateHunt(def); len(problems) > 0 {
		return HuntDefinition{}, &ValidationError{Problems: problems}
	}
	return def, nil
}

// ValidateHunt returns human-readable problems with def; nil means valid.
func ValidateHunt(def HuntDefinition) []string {
	var problems []string
	if strings.TrimSpace(def.Name) == "" {
		problems = append(problems, "Hunt must have a valid 'name' field")
	}
	if len(def.Levels) == 0 {
		return append(problems, "Hunt must have at least one level")
	}
	if len(def.Levels) > maxLevels {
		problems = append(problems, fmt.Sprintf("Hunt cannot have more than %d levels", maxLevels))
	}

	seen := make(map[int]struct{}, len(def.Levels))
	for i, level := range def.Levels {
		prefix := fmt.Sprintf("Level %d", i+1)

		if level.ID == 0 {
			problems = append(problems, prefix+": Must have a valid numeric 'id' field")
		} else {
			if _, dup := seen[level.ID]; dup {
				problems = append(problems, fmt.Sprintf("%s: Duplicate level ID %d", prefix, level.ID))
			}
			seen[level.ID] = struct{}{}
			if level.ID < 1 || level.ID > maxLevelID {
				problems = append(problems, fmt.Sprintf("%s: Level ID must be between 1 and %d", prefix, maxLevelID))
			}
		}

		switch {
		case strings.TrimSpace(level.Question) == "":
			problems = append(problems, prefix+": Must have a valid 'question' field")
		case utf8.RuneCountInString(level.Question) > maxQuestionLength:
			problems = append(problems, fmt.Sprintf("%s: Question cannot exceed %d characters", prefix, maxQuestionLength))
		}

		if len(level.Answers) == 0 {
			problems = append(problems, prefix+": Must have an 'answer' field")
		}
		for j, answer := range level.Answers {
			if strings.TrimSpace(answer) == "" {
				problems = append(problems, fmt.Sprintf("%s: Answer %d must be a non-empty string", prefix, j+1))
			}
		}

		if utf8.RuneCountInString(level.Hint) > maxHintLength {
			problems = append(problems, fmt.Sprintf("%s: Hint cannot exceed %d characters", prefix, maxHintLength))
		}
		if level.Points < 0 || level.Points > maxLevelPoints {
			problems = append(problems, fmt.Sprintf("%s: Points must be a number between 1 and %d", prefix, maxLevelPoints))
		}
	}
	return problems
}

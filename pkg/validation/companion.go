// Package validation holds the companion record rules shared by the form and
// the API handlers.
package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"companionai/pkg/domain"
)

const DefaultMinTextLength = 200

// Field names as they appear in the request body and in FieldErrors.
const (
	FieldName         = "name"
	FieldDescription  = "description"
	FieldInstructions = "instructions"
	FieldSeed         = "seed"
	FieldSrc          = "src"
	FieldCategoryID   = "categoryID"
)

// Rules holds the configurable thresholds.
type Rules struct {
	InstructionsMinLength int
	SeedMinLength         int
}

// DefaultRules returns the 200-character minimums for instructions and seed.
func DefaultRules() Rules {
	return Rules{
		InstructionsMinLength: DefaultMinTextLength,
		SeedMinLength:         DefaultMinTextLength,
	}
}

func (r Rules) normalized() Rules {
	if r.InstructionsMinLength <= 0 {
		r.InstructionsMinLength = DefaultMinTextLength
	}
	if r.SeedMinLength <= 0 {
		r.SeedMinLength = DefaultMinTextLength
	}
	return r
}

// FieldErrors maps a field name to a human-readable message.
type FieldErrors map[string]string

// Fields returns the failing field names in sorted order.
func (fe FieldErrors) Fields() []string {
	out := make([]string, 0, len(fe))
	for field := range fe {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

// Error renders one "field: message" line per failing field.
func (fe FieldErrors) Error() string {
	lines := make([]string, 0, len(fe))
	for _, field := range fe.Fields() {
		lines = append(lines, field+": "+fe[field])
	}
	return strings.Join(lines, "\n")
}

// Validate trims the input and checks it against rules. A nil FieldErrors
// means the returned input is valid.
func Validate(in domain.CompanionInput, rules Rules) (domain.CompanionInput, FieldErrors) {
	rules = rules.normalized()
	in = Normalize(in)
	errs := FieldErrors{}
	if in.Name == "" {
		errs[FieldName] = "Name is required."
	}
	if in.Description == "" {
		errs[FieldDescription] = "Description is required."
	}
	if utf8.RuneCountInString(in.Instructions) < rules.InstructionsMinLength {
		errs[FieldInstructions] = fmt.Sprintf("Instructions require at least %d characters.", rules.InstructionsMinLength)
	}
	if utf8.RuneCountInString(in.Seed) < rules.SeedMinLength {
		errs[FieldSeed] = fmt.Sprintf("Seed require at least %d characters.", rules.SeedMinLength)
	}
	if in.Src == "" {
		errs[FieldSrc] = "Image is required."
	}
	if in.CategoryID == "" {
		errs[FieldCategoryID] = "Category is required."
	}
	if len(errs) == 0 {
		return in, nil
	}
	return in, errs
}

// MissingRequired lists the fields that are empty after trimming, in the
// order the request body declares them.
func MissingRequired(in domain.CompanionInput) []string {
	in = Normalize(in)
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{FieldSrc, in.Src},
		{FieldName, in.Name},
		{FieldDescription, in.Description},
		{FieldInstructions, in.Instructions},
		{FieldSeed, in.Seed},
		{FieldCategoryID, in.CategoryID},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Normalize trims surrounding whitespace from every field.
func Normalize(in domain.CompanionInput) domain.CompanionInput {
	return domain.CompanionInput{
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		Instructions: strings.TrimSpace(in.Instructions),
		Seed:         strings.TrimSpace(in.Seed),
		Src:          strings.TrimSpace(in.Src),
		CategoryID:   strings.TrimSpace(in.CategoryID),
	}
}

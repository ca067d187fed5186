package manifest

import (
	"fmt"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
)

// ValidateAccountLabel validates account label format and constraints
func ValidateAccountLabel(label string) error {
	if label == "" {
		return errors.NewValidationError("account label cannot be empty", nil)
	}

	if len(label) > 64 {
		return errors.NewValidationError("account label cannot exceed 64 characters", nil)
	}

	for _, char := range label {
		if !isValidLabelChar(char) {
			return errors.NewValidationError("account label contains invalid characters: only letters, numbers, hyphens, and underscores are allowed", nil)
		}
	}

	return nil
}

// ValidateEntry validates a single manifest entry
func ValidateEntry(entry Entry) error {
	if err := ValidateAccountLabel(entry.AccountLabel); err != nil {
		return err
	}

	if entry.Mode() == ModeUnknown {
		return errors.NewValidationError(
			fmt.Sprintf("unrecognized automation mode: %s", entry.AutomationMode),
			nil,
		).WithContext("account_label", entry.AccountLabel).WithContext("supported_modes", "OFF, LEARN_DRY, LIVE_CANARY, LIVE_FULL")
	}

	return nil
}

// Validate validates the entire manifest document. All entry problems are
// collected rather than stopping at the first one.
func Validate(m *Manifest) error {
	if m == nil {
		return errors.NewValidationError("manifest cannot be nil", nil)
	}

	collection := errors.NewErrorCollection()

	seenLabels := make(map[string]int)
	for i, entry := range m.Accounts {
		if err := ValidateEntry(entry); err != nil {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("invalid entry at index %d", i),
				err,
			).WithContext("account_label", entry.AccountLabel))
			continue
		}

		if prevIndex, exists := seenLabels[entry.AccountLabel]; exists {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("duplicate account label '%s' found at indices %d and %d", entry.AccountLabel, prevIndex, i),
				nil,
			))
			continue
		}
		seenLabels[entry.AccountLabel] = i
	}

	return collection.ToError()
}

func isValidLabelChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_'
}

package handoff

// Behavior describes how the executor packages context for one handoff
// category. Categories are keyed by target domain and resolved once per
// executed handoff from a lookup table, not per-agent subtyping.
type Behavior struct {
	// Category names the handoff category (normally the target domain).
	Category string `yaml:"category" json:"category"`

	// SkipQualification marks that the receiving agent can trust the
	// transferred qualification and skip re-qualifying the contact.
	SkipQualification bool `yaml:"skip_qualification" json:"skip_qualification"`

	// Greeting is the tone marker the receiving agent uses for its opening
	// turn after the transfer.
	Greeting string `yaml:"greeting" json:"greeting"`

	// UrgentAtScore is the qualification score at or above which the
	// transfer is flagged urgent.
	UrgentAtScore float64 `yaml:"urgent_at_score" json:"urgent_at_score"`
}

// BehaviorTable maps handoff category to its behavior descriptor.
type BehaviorTable map[string]Behavior

// DefaultBehaviorTable returns descriptors for the standard domains.
func DefaultBehaviorTable() BehaviorTable {
	return BehaviorTable{
		"seller": {
			Category:          "seller",
			SkipQualification: true,
			Greeting:          "direct",
			UrgentAtScore:     70,
		},
		"buyer": {
			Category:          "buyer",
			SkipQualification: true,
			Greeting:          "consultative",
			UrgentAtScore:     70,
		},
		"intake": {
			Category:          "intake",
			SkipQualification: false,
			Greeting:          "welcoming",
			UrgentAtScore:     90,
		},
	}
}

// Resolve returns the behavior for a category, falling back to a neutral
// descriptor for unknown categories.
func (t BehaviorTable) Resolve(category string) Behavior {
	if b, ok := t[category]; ok {
		return b
	}
	return Behavior{
		Category:      category,
		Greeting:      "neutral",
		UrgentAtScore: 80,
	}
}

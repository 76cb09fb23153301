package coordinator

import (
	"strings"
	"time"

	"github.com/relaydesk/relay/handoff"
	"github.com/relaydesk/relay/types"
)

// CandidateDetector proposes a handoff candidate from an inbound message, or
// reports that none is warranted. Detection is intentionally cheap; the
// evaluator does the real scoring.
type CandidateDetector interface {
	Detect(conv *types.Conversation, text string) (types.HandoffCandidate, bool)
}

// KeywordDetector proposes candidates by matching intent phrases against the
// per-domain signal profiles. The best-scoring target that is not the current
// owner becomes the candidate; the accumulated phrase weight becomes the raw
// confidence.
type KeywordDetector struct {
	profiles map[string]handoff.SignalProfile
}

// NewKeywordDetector builds a detector over the given profiles; nil installs
// the default domain profiles.
func NewKeywordDetector(profiles map[string]handoff.SignalProfile) *KeywordDetector {
	if profiles == nil {
		profiles = handoff.DefaultSignalProfiles()
	}
	return &KeywordDetector{profiles: profiles}
}

// Detect scans one message for intent markers.
func (d *KeywordDetector) Detect(conv *types.Conversation, text string) (types.HandoffCandidate, bool) {
	content := strings.ToLower(text)
	owner := conv.Owner()

	var bestTarget string
	var bestScore float64
	var bestSignals []string
	for target, profile := range d.profiles {
		if target == owner {
			continue
		}
		var score float64
		var signals []string
		for phrase, weight := range profile.Keywords {
			if strings.Contains(content, phrase) {
				score += weight
				signals = append(signals, phrase)
			}
		}
		if score > bestScore {
			bestTarget = target
			bestScore = score
			bestSignals = signals
		}
	}

	if bestTarget == "" {
		return types.HandoffCandidate{}, false
	}
	if bestScore > 1 {
		bestScore = 1
	}
	return types.HandoffCandidate{
		ConversationID: conv.ID,
		Source:         owner,
		Target:         bestTarget,
		Confidence:     bestScore,
		Signals:        bestSignals,
		Timestamp:      time.Now(),
	}, true
}

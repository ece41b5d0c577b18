// Package classify decides, for a freshly-fetched card and the
// previously-recorded description for that card, which of four classes
// a notification falls into and therefore how much work — if any —
// the dispatcher owes it. The extractor is the dominant cost in time
// and money; this package isolates the single boolean that gates it.
package classify

import "strings"

type Class string

const (
	New          Class = "new"
	DescChanged  Class = "desc_changed"
	MetadataOnly Class = "metadata_only"
	Irrelevant   Class = "irrelevant"
)

// relevantActionKinds are the only action kinds that can produce
// anything but Irrelevant. These are Trello's own action-type strings
// (action.type verbatim, e.g. "createCard"/"updateCard"), not a
// collapsed enum — action_kind is stored on the event row exactly as
// Trello sent it, so the classifier has to speak the same vocabulary
// ParseNotification produces.
var relevantActionKinds = map[string]bool{
	"createCard": true,
	"updateCard": true,
}

// Input is everything the classifier needs: the freshly-fetched card's
// identity and description, whether a card-master row already exists
// for it, the previously-known description (if any), and the
// notification's own action kind and card-id presence.
type Input struct {
	ActionKind          string
	CardIDPresent       bool
	MasterExists        bool
	NewDescription      string
	PreviousDescription string
	PreviousKnown       bool
}

// Classify returns the class for in. PreviousKnown does not change the
// result: a previous description that was never known compares the same
// as a known empty one, per the null≡empty normalization rule.
func Classify(in Input) Class {
	if !in.CardIDPresent || !relevantActionKinds[in.ActionKind] {
		return Irrelevant
	}
	if !in.MasterExists {
		return New
	}
	if NormalizeDescription(in.NewDescription) != NormalizeDescription(in.PreviousDescription) {
		return DescChanged
	}
	return MetadataOnly
}

// NormalizeDescription applies the equality rule spec.md §4.D requires
// for description comparison: trim surrounding whitespace, canonicalize
// CRLF/CR newlines to LF, and treat an absent description the same as
// an empty one.
func NormalizeDescription(desc string) string {
	desc = strings.ReplaceAll(desc, "\r\n", "\n")
	desc = strings.ReplaceAll(desc, "\r", "\n")
	return strings.TrimSpace(desc)
}

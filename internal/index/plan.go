package index

import (
	"github.com/Aman-CERP/amankb/internal/chunk"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// Plan is the set of changes that brings a collection in line with a note
// set. A renamed note has a new NoteID, so it shows up as one deletion and
// one addition.
type Plan struct {
	ToAdd    []chunk.Note
	ToUpdate []chunk.Note
	// ToDelete holds NoteIDs of stored notes absent from the input.
	ToDelete  []string
	Unchanged int
	// Invalid holds notes rejected before any work was planned for them.
	Invalid []NoteFailure
}

// Empty reports whether applying the plan would change nothing.
func (p *Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// Diff compares notes against stored content hashes. existingHash maps
// NoteID to the hash on its chunk 0. Every valid input note lands in
// exactly one of ToAdd, ToUpdate or Unchanged. Every stored note whose
// NoteID is absent from the input lands in ToDelete.
func Diff(notes []chunk.Note, existingHash map[string]string) *Plan {
	plan := &Plan{}
	seen := make(map[string]bool, len(notes))

	for _, n := range notes {
		id := chunk.NoteID(n)
		if seen[id] {
			plan.Invalid = append(plan.Invalid, NoteFailure{
				NoteID: id,
				Title:  n.Title,
				Err: amerrors.New(amerrors.ErrCodeInvalidNote,
					"duplicate note: same title and createdAt as an earlier note", nil).
					WithDetail("note_id", id),
			})
			continue
		}
		seen[id] = true

		// An invalid note keeps whatever version is already stored.
		if err := n.Validate(); err != nil {
			plan.Invalid = append(plan.Invalid, NoteFailure{NoteID: id, Title: n.Title, Err: err})
			continue
		}

		stored, ok := existingHash[id]
		switch {
		case !ok:
			plan.ToAdd = append(plan.ToAdd, n)
		case stored != chunk.ContentHash(n):
			plan.ToUpdate = append(plan.ToUpdate, n)
		default:
			plan.Unchanged++
		}
	}

	for id := range existingHash {
		if !seen[id] {
			plan.ToDelete = append(plan.ToDelete, id)
		}
	}
	return plan
}

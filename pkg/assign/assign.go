// Package assign plans round-robin distribution of documents across
// reviewers. Planning is pure; persistence of the resulting pairs is the
// store's job.
package assign

// Pair designates one document to one user.
type Pair struct {
	DocumentID uint
	UserID     uint
}

// Plan is the outcome of a distribution: the (document, user) pairs in
// assignment order and the per-user document counts.
type Plan struct {
	Pairs  []Pair
	Counts map[uint]int
}

// Empty reports whether the plan assigns nothing.
func (p Plan) Empty() bool {
	return len(p.Pairs) == 0
}

// Distribute assigns documents to users cyclically: after de-duplicating
// both lists in first-seen order, document i goes to users[i % len(users)].
// If either list ends up empty the plan is empty.
func Distribute(documentIDs, userIDs []uint) Plan {
	docs := dedupe(documentIDs)
	users := dedupe(userIDs)

	plan := Plan{Counts: make(map[uint]int)}
	if len(docs) == 0 || len(users) == 0 {
		return plan
	}

	for i, docID := range docs {
		userID := users[i%len(users)]
		plan.Pairs = append(plan.Pairs, Pair{DocumentID: docID, UserID: userID})
		plan.Counts[userID]++
	}
	return plan
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	var out []uint
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package domain

// keyed is satisfied by child rows that carry a persisted id.
type keyed interface {
	key() int64
}

func (c UserClaim) key() int64 { return c.ID }
func (f UserFile) key() int64  { return f.ID }

// KeyedDiff is the minimal statement set for one keyed child collection.
// Deletes must be applied before inserts so that a reassigned id never
// collides with a row that is about to disappear.
type KeyedDiff[T keyed] struct {
	Delete []int64
	Update []T
	Insert []T
}

// Empty reports whether the diff produces no statements at all.
func (d KeyedDiff[T]) Empty() bool {
	return len(d.Delete) == 0 && len(d.Update) == 0 && len(d.Insert) == 0
}

// DiffKeyed computes the delete/update/insert set between the persisted
// snapshot ids and the incoming rows of a keyed collection.
//
// Incoming rows with id>0 that are absent from the snapshot are silently
// dropped from the keep set: they neither update nor insert, and their id is
// not protected from deletion. Incoming rows with id==0 always insert.
// An empty incoming slice therefore deletes every persisted row; callers
// distinguish "nil = don't touch" before calling.
func DiffKeyed[T keyed](persisted []int64, incoming []T) KeyedDiff[T] {
	var diff KeyedDiff[T]

	known := make(map[int64]struct{}, len(persisted))
	for _, id := range persisted {
		known[id] = struct{}{}
	}

	keep := make(map[int64]struct{}, len(incoming))
	for _, row := range incoming {
		id := row.key()
		switch {
		case id == 0:
			diff.Insert = append(diff.Insert, row)
		default:
			if _, ok := known[id]; ok {
				diff.Update = append(diff.Update, row)
				keep[id] = struct{}{}
			}
		}
	}

	for _, id := range persisted {
		if _, ok := keep[id]; !ok {
			diff.Delete = append(diff.Delete, id)
		}
	}

	return diff
}

// RoleReplacement is the full-replace plan for the non-keyed roles
// collection: membership has no independent identity to diff against, so the
// persisted set is wiped and the incoming set inserted wholesale.
type RoleReplacement struct {
	Insert []UserRole
}

// ReplaceRoles deduplicates the incoming memberships and returns the
// replacement plan. Duplicate role ids would violate the composite primary
// key on insert.
func ReplaceRoles(incoming []UserRole) RoleReplacement {
	seen := make(map[int64]struct{}, len(incoming))
	out := make([]UserRole, 0, len(incoming))
	for _, r := range incoming {
		if _, ok := seen[r.RoleID]; ok {
			continue
		}
		seen[r.RoleID] = struct{}{}
		out = append(out, r)
	}
	return RoleReplacement{Insert: out}
}

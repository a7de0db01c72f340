package backup

// Kind names an entity whose ids change on import.
type Kind string

const (
	KindCategory Kind = "category"
	KindCard     Kind = "card"
	KindPurchase Kind = "purchase"
	KindVault    Kind = "vault"
)

// Remapper maps ids from a backup to the ids the rows received on insert.
type Remapper struct {
	ids map[Kind]map[int64]int64
}

// NewRemapper returns an empty Remapper.
func NewRemapper() *Remapper {
	return &Remapper{ids: make(map[Kind]map[int64]int64)}
}

// Record maps oldID of kind to newID.
func (r *Remapper) Record(kind Kind, oldID, newID int64) {
	m, ok := r.ids[kind]
	if !ok {
		m = make(map[int64]int64)
		r.ids[kind] = m
	}
	m[oldID] = newID
}

// Lookup returns the new id for oldID of kind.
func (r *Remapper) Lookup(kind Kind, oldID int64) (int64, bool) {
	newID, ok := r.ids[kind][oldID]
	return newID, ok
}

// Rewrite replaces a required reference with its new id. It reports false
// when the parent was never inserted, in which case the dependent is skipped.
func (r *Remapper) Rewrite(kind Kind, ref *int64) bool {
	newID, ok := r.Lookup(kind, *ref)
	if !ok {
		return false
	}
	*ref = newID
	return true
}

// RewriteOptional rewrites an optional reference. A reference to a parent
// that was never inserted is cleared, and false is returned.
func (r *Remapper) RewriteOptional(kind Kind, ref **int64) bool {
	if *ref == nil {
		return true
	}
	newID, ok := r.Lookup(kind, **ref)
	if !ok {
		*ref = nil
		return false
	}
	*ref = &newID
	return true
}

// Len returns the number of mapped ids of kind.
func (r *Remapper) Len(kind Kind) int {
	return len(r.ids[kind])
}

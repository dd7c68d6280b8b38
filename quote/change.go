package quote

// Diff lists the instruments whose buy or sell differ between the two
// snapshots. Comparison is exact; both sides went through the same rounding.
func Diff(previous, current Snapshot) []Key {
	var changed []Key
	for _, k := range Keys() {
		if !previous.Get(k).Equal(current.Get(k)) {
			changed = append(changed, k)
		}
	}
	return changed
}

// Changed reports whether any field of any instrument moved.
func Changed(previous, current Snapshot) bool {
	for _, k := range Keys() {
		if !previous.Get(k).Equal(current.Get(k)) {
			return true
		}
	}
	return false
}

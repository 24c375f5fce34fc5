package uprobe

// procTracker diffs successive UPID snapshots into the sets the
// deployment pipeline works from: what appeared since the last
// update, what disappeared, and everything currently alive.
type procTracker struct {
	upids   map[UPID]struct{}
	new     map[UPID]struct{}
	deleted map[UPID]struct{}
}

func newProcTracker() *procTracker {
	return &procTracker{
		upids:   make(map[UPID]struct{}),
		new:     make(map[UPID]struct{}),
		deleted: make(map[UPID]struct{}),
	}
}

// Update replaces the tracked set with the given snapshot and
// recomputes the new/deleted deltas relative to the previous one.
func (t *procTracker) Update(snapshot map[UPID]struct{}) {
	t.new = make(map[UPID]struct{})
	t.deleted = make(map[UPID]struct{})

	for upid := range snapshot {
		if _, ok := t.upids[upid]; !ok {
			t.new[upid] = struct{}{}
		}
	}
	for upid := range t.upids {
		if _, ok := snapshot[upid]; !ok {
			t.deleted[upid] = struct{}{}
		}
	}

	next := make(map[UPID]struct{}, len(snapshot))
	for upid := range snapshot {
		next[upid] = struct{}{}
	}
	t.upids = next
}

func (t *procTracker) UPIDs() map[UPID]struct{}        { return t.upids }
func (t *procTracker) NewUPIDs() map[UPID]struct{}     { return t.new }
func (t *procTracker) DeletedUPIDs() map[UPID]struct{} { return t.deleted }

package keyspace

import "sync"

// Databases is the set of numbered keyspaces a server holds (spec.md §3,
// "Databases"). Db 0 always exists; others are created on first use.
type Databases struct {
	mu   sync.Mutex
	dbs  map[int]*Keyspace
}

// NewDatabases returns a Databases with db 0 already present.
func NewDatabases() *Databases {
	d := &Databases{dbs: make(map[int]*Keyspace)}
	d.dbs[0] = New()
	return d
}

// Get returns the keyspace for id, creating it if this is the first time
// it has been selected.
func (d *Databases) Get(id int) *Keyspace {
	d.mu.Lock()
	defer d.mu.Unlock()

	ks, ok := d.dbs[id]
	if !ok {
		ks = New()
		d.dbs[id] = ks
	}
	return ks
}

// Default returns db 0, the only database the core command engine selects
// into (spec.md §3: "selecting a different db is not required for the
// core").
func (d *Databases) Default() *Keyspace {
	return d.Get(0)
}

package authcache

import (
	"sort"
)

// Catalog is the set of database names that existed on the upstream
// source when the snapshot was built. It is consulted only while loading
// grants, to expand wildcard database patterns into concrete names; the
// lookup path never touches it.
type Catalog struct {
	names map[string]struct{}
}

func NewCatalog() *Catalog {
	return &Catalog{names: map[string]struct{}{}}
}

// Add records a database name. Names that are empty or longer than
// MaxNameLen are ignored and Add reports false.
func (c *Catalog) Add(name string) bool {
	if name == "" || len(name) > MaxNameLen {
		return false
	}
	c.names[name] = struct{}{}
	return true
}

func (c *Catalog) Contains(name string) bool {
	_, ok := c.names[name]
	return ok
}

func (c *Catalog) Len() int { return len(c.names) }

// Names returns the database names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.names))
	for name := range c.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Expand lists the existing databases a '%' pattern matches. A grant
// expanded this way never references a database that was absent at
// refresh time.
func (c *Catalog) Expand(pattern string) []string {
	var out []string
	for _, name := range c.Names() {
		if matchWildcardName(name, pattern) {
			out = append(out, name)
		}
	}
	return out
}

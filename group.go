package lessweb

// RouteGroup registers handlers under a shared path prefix. Event
// subscribers are never prefixed.
type RouteGroup struct {
	table  *RouteTable
	prefix string
}

// Register adds h with the group prefix prepended to its path.
func (g *RouteGroup) Register(h Handler) (*RouteEntry, error) {
	if h.Endpoint.Event == "" {
		h.Endpoint.Path = g.prefix + h.Endpoint.Path
	}
	return g.table.Register(h)
}

// Group returns a nested group.
func (g *RouteGroup) Group(prefix string) *RouteGroup {
	return g.table.Group(g.prefix + prefix)
}

// Prefix returns the group path prefix.
func (g *RouteGroup) Prefix() string { return g.prefix }

package route

// Action is what a listener does with a matched route.
type Action int

const (
	// Serve hands the request to the forwarding or static engine.
	Serve Action = iota
	// Redirect sends the client to the secure listener.
	Redirect
)

// Binding is a route as seen from one listener.
type Binding struct {
	Route  *RouteConfig
	Action Action
}

// Table is the ordered, read-only route table shared by both listeners.
type Table struct {
	routes []*RouteConfig
}

func NewTable(routes []RouteConfig) *Table {
	t := &Table{routes: make([]*RouteConfig, 0, len(routes))}
	for i := range routes {
		rc := routes[i]
		t.routes = append(t.routes, &rc)
	}
	return t
}

func (t *Table) Routes() []*RouteConfig {
	return t.routes
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Bindings returns the routes installed on a listener, in declaration order.
// The secure listener only holds secure routes. The plaintext listener holds
// every other route plus a redirect shadow for each secure one.
func (t *Table) Bindings(secureListener bool) []Binding {
	if t == nil {
		return nil
	}

	bindings := make([]Binding, 0, len(t.routes))
	for _, rc := range t.routes {
		switch {
		case secureListener && rc.Secure:
			bindings = append(bindings, Binding{Route: rc, Action: Serve})
		case !secureListener && rc.Secure:
			bindings = append(bindings, Binding{Route: rc, Action: Redirect})
		case !secureListener:
			bindings = append(bindings, Binding{Route: rc, Action: Serve})
		}
	}
	return bindings
}

// Match returns the bindings on a listener that route path, first declared
// first. Callers take the first one unless it declines the request.
func (t *Table) Match(path string, secureListener bool) []Binding {
	var matched []Binding
	for _, b := range t.Bindings(secureListener) {
		if b.Route.Matches(path) {
			matched = append(matched, b)
		}
	}
	return matched
}

// HasSecure reports whether any route needs the secure listener.
func (t *Table) HasSecure() bool {
	if t == nil {
		return false
	}
	for _, rc := range t.routes {
		if rc.Secure {
			return true
		}
	}
	return false
}

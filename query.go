package anvil

// RegistrationQuery defines criteria for querying registrations.
type RegistrationQuery struct {
	// Type filters by registered type. nil matches all types.
	Type Type

	// Name filters by registration name. Use Named to match the default
	// (empty) name explicitly.
	Name *string

	// Lifetime filters by lifetime name (transient, container-controlled,
	// hierarchical, per-thread, per-resolve, externally-controlled).
	// Empty string matches all lifetimes.
	Lifetime string

	// Instances filters by whether the registration is a registered instance.
	// nil matches both.
	Instances *bool

	// Local restricts the query to registrations made on the queried
	// container itself.
	Local bool
}

// Named returns a pointer to name, for RegistrationQuery.Name.
func Named(name string) *string {
	return &name
}

// Query returns the registrations visible from c that match the query.
//
// Example:
//
//	// Find all singleton registrations of Store
//	results := anvil.Query(c, anvil.RegistrationQuery{
//	    Type:     anvil.TypeOf[Store](),
//	    Lifetime: "container-controlled",
//	})
func Query(c *Container, query RegistrationQuery) []RegistrationInfo {
	var results []RegistrationInfo

	for _, info := range c.Registrations() {
		if query.Type != nil && info.From != query.Type {
			continue
		}

		if query.Name != nil && info.Name != *query.Name {
			continue
		}

		if query.Lifetime != "" && info.Lifetime != query.Lifetime {
			continue
		}

		if query.Instances != nil && info.Instance != *query.Instances {
			continue
		}

		if query.Local && info.Container != c.ID() {
			continue
		}

		results = append(results, info)
	}

	return results
}

// QueryKeys returns the build keys of the registrations matching the query.
func QueryKeys(c *Container, query RegistrationQuery) []BuildKey {
	results := Query(c, query)

	keys := make([]BuildKey, len(results))
	for i, info := range results {
		keys[i] = BuildKey{Type: info.From, Name: info.Name}
	}

	return keys
}

// FindByType returns all registrations of t.
func FindByType(c *Container, t Type) []RegistrationInfo {
	return Query(c, RegistrationQuery{Type: t})
}

// FindByLifetime returns all registrations with a specific lifetime.
func FindByLifetime(c *Container, lifetime string) []RegistrationInfo {
	return Query(c, RegistrationQuery{Lifetime: lifetime})
}

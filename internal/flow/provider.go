package flow

// Protocol validates a computed value and governs how the persistent cache
// serializes/deserializes it. The resolver never inspects the serialized
// form itself -- it only calls Validate before a save, and trusts whatever
// the cache returns on a subsequent Load.
type Protocol interface {
	Validate(value any) error
	Serialize(value any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// ProviderAttrs carries the declarative attributes a provider exposes about
// the entity or entities it produces.
type ProviderAttrs struct {
	// Names is the set of entity names this provider jointly produces.
	Names []EntityName
	// ShouldPersist reports whether this provider's outputs may be written
	// to and served from the persistent cache.
	ShouldPersist bool
}

// Provider is the external contract each entity (or joint set of entities)
// exposes to the graph builder and resolver. All methods must be pure with
// respect to resolver state.
type Provider interface {
	// DependencyNames lists the entity names this provider depends on.
	DependencyNames() []EntityName

	// KeySpace derives this entity's key space from the key spaces of its
	// declared dependencies.
	KeySpace(depKeySpacesByName map[EntityName]KeySpace) KeySpace

	// Tasks materializes the tasks covering this entity's key space, given
	// the dependency key spaces and the ordered task keys each dependency
	// name resolves to.
	Tasks(depKeySpacesByName map[EntityName]KeySpace, depTaskKeysByName map[EntityName][]TaskKey) []Task

	// CodeID returns an opaque identifier for the code that computes the
	// given case, used to build Provenance.
	CodeID(caseKey CaseKey) string

	// ProtocolFor returns the protocol governing values of the named
	// entity (relevant for joint providers that produce more than one).
	ProtocolFor(name EntityName) Protocol

	// Attrs returns this provider's declarative attributes.
	Attrs() ProviderAttrs
}

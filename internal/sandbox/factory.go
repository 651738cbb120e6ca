package sandbox

// Factory mints fresh Provider values for the backend selected once at
// process startup. The Manager depends only on this interface; concrete
// backend wiring lives in internal/sandbox/factory.
type Factory interface {
	// Backend returns the tag of the backend this factory produces
	// ("cloud", "docker", "mock").
	Backend() string

	// New returns a Provider holding no session yet.
	New() (Provider, error)
}

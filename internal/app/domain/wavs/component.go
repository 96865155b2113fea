package wavs

// Default resource caps applied when a workflow does not declare its own;
// operator-level caps always clamp these to the stricter of the two.
const (
	DefaultFuelLimit        uint64 = 10_000_000_000
	DefaultTimeLimitSeconds uint32 = 15
)

// ComponentSourceKind tags which variant of ComponentSource is populated.
type ComponentSourceKind int

const (
	// SourceDigest references bytes already present in the content-addressed
	// store under the given digest.
	SourceDigest ComponentSourceKind = iota
	// SourceDownload fetches bytes from a URL and verifies them against Digest.
	SourceDownload
	// SourceRegistry fetches bytes from a named package registry.
	SourceRegistry
)

// ComponentSource describes where a component's bytecode comes from.
type ComponentSource struct {
	Kind ComponentSourceKind

	// Digest variant / shared verification target for Download and Registry.
	Digest ComponentDigest

	// Download variant.
	URL string

	// Registry variant.
	RegistryDomain string
	RegistryPkg    string
	RegistryVer    string // optional; empty selects the highest-precedence version.
}

// ResolvedDigest returns the digest this source ultimately resolves to
// verifying against, valid for every Kind.
func (s ComponentSource) ResolvedDigest() ComponentDigest { return s.Digest }

// HTTPHostPolicy tags which variant of AllowedHTTPHosts is populated.
type HTTPHostPolicy int

const (
	HTTPHostsNone HTTPHostPolicy = iota
	HTTPHostsAll
	HTTPHostsOnly
)

// Permissions enumerates the host capabilities a component is allowed to use.
type Permissions struct {
	FileSystem       bool
	AllowedHTTPHosts HTTPHostPolicy
	OnlyHosts        []string // populated when AllowedHTTPHosts == HTTPHostsOnly
	RawSockets       bool
	DNS              bool
}

// HTTPAllowed reports whether the component may reach host, honoring the
// configured policy.
func (p Permissions) HTTPAllowed(host string) bool {
	switch p.AllowedHTTPHosts {
	case HTTPHostsAll:
		return true
	case HTTPHostsOnly:
		for _, h := range p.OnlyHosts {
			if h == host {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Component is immutable WASM bytecode plus the permissions, resource caps,
// and config surfaced to it at invocation time.
type Component struct {
	Source           ComponentSource
	Permissions      Permissions
	FuelLimit        uint64 // 0 means "use DefaultFuelLimit"
	TimeLimitSeconds uint32 // 0 means "use DefaultTimeLimitSeconds"
	Config           map[string]string
	EnvKeys          []string // names of WAVS_ENV_ variables the guest may read
}

// EffectiveFuelLimit applies the component/operator precedence rule: the
// stricter (smaller) of the two always wins.
func (c Component) EffectiveFuelLimit(operatorCap uint64) uint64 {
	limit := c.FuelLimit
	if limit == 0 {
		limit = DefaultFuelLimit
	}
	if operatorCap > 0 && operatorCap < limit {
		return operatorCap
	}
	return limit
}

// EffectiveTimeLimit applies the same clamp rule for wall-clock time.
func (c Component) EffectiveTimeLimit(operatorCap uint32) uint32 {
	limit := c.TimeLimitSeconds
	if limit == 0 {
		limit = DefaultTimeLimitSeconds
	}
	if operatorCap > 0 && operatorCap < limit {
		return operatorCap
	}
	return limit
}

// Package permissions resolves permission profiles and translates them into
// sandbox configuration for the container runtime.
package permissions

// ControlSocket is the only path the built-in profiles grant access to.
const ControlSocket = "/var/run/mcp.sock"

// Built-in profile selectors.
const (
	BuiltinStdio   = "stdio"
	BuiltinNetwork = "network"
)

// Profile is a declarative description of what a server may touch. Read and
// Write entries are mount declarations, either "path" or "source:target". A
// nil Network means the container gets no network at all.
type Profile struct {
	Read    []string       `yaml:"read"`
	Write   []string       `yaml:"write"`
	Network *NetworkPolicy `yaml:"network,omitempty"`
}

// NetworkPolicy grants network access.
type NetworkPolicy struct {
	Outbound OutboundPolicy `yaml:"outbound"`
}

// OutboundPolicy describes permitted outbound traffic.
type OutboundPolicy struct {
	InsecureAllowAll bool     `yaml:"insecure_allow_all"`
	AllowHost        []string `yaml:"allow_host,omitempty"`
	AllowPort        []int    `yaml:"allow_port,omitempty"`
}

// StdioProfile returns the built-in profile for stream-piped servers.
func StdioProfile() *Profile {
	return &Profile{
		Read:  []string{ControlSocket},
		Write: []string{ControlSocket},
	}
}

// NetworkProfile returns the built-in profile for network-exposed servers.
func NetworkProfile() *Profile {
	p := StdioProfile()
	p.Network = &NetworkPolicy{Outbound: OutboundPolicy{InsecureAllowAll: true}}
	return p
}

// Builtin returns the built-in profile named by selector.
func Builtin(selector string) (*Profile, bool) {
	switch selector {
	case BuiltinStdio:
		return StdioProfile(), true
	case BuiltinNetwork:
		return NetworkProfile(), true
	}
	return nil, false
}

package jobs

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	kindsMu sync.RWMutex
	kinds   = map[string]func() Capability{}
)

// RegisterKind makes a capability kind decodable from job configuration.
// factory must return a pointer that yaml.v3 can decode into. It panics if
// the kind is registered twice.
func RegisterKind(kind string, factory func() Capability) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, dup := kinds[kind]; dup {
		panic(fmt.Sprintf("jobs: capability kind %q registered twice", kind))
	}
	kinds[kind] = factory
}

func lookupKind(kind string) (func() Capability, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	f, ok := kinds[kind]
	return f, ok
}

// Unknown holds a capability whose kind isn't registered in this process.
// Its configuration is written back untouched when the job is saved.
type Unknown struct {
	kind   string
	config yaml.Node
}

func (u *Unknown) Kind() string { return u.kind }

type jobDocument struct {
	Name         string               `yaml:"name"`
	DisplayName  string               `yaml:"display_name,omitempty"`
	Capabilities []capabilityDocument `yaml:"capabilities"`
}

type capabilityDocument struct {
	Kind   string    `yaml:"kind"`
	Config yaml.Node `yaml:"config,omitempty"`
}

// Marshal encodes a job as YAML.
func Marshal(j *Job) ([]byte, error) {
	doc := jobDocument{
		Name:         j.Name,
		DisplayName:  j.DisplayName,
		Capabilities: []capabilityDocument{},
	}
	for _, c := range j.Capabilities() {
		cd := capabilityDocument{Kind: c.Kind()}
		if u, ok := c.(*Unknown); ok {
			cd.Config = u.config
		} else if err := cd.Config.Encode(c); err != nil {
			return nil, fmt.Errorf("encoding %s capability: %w", c.Kind(), err)
		}
		doc.Capabilities = append(doc.Capabilities, cd)
	}
	return yaml.Marshal(doc)
}

// Unmarshal decodes a job from YAML. Capabilities of unregistered kinds are
// kept as *Unknown.
func Unmarshal(data []byte) (*Job, error) {
	var doc jobDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("decoding job: %w: name is empty", ErrInvalidJobName)
	}

	caps := make([]Capability, 0, len(doc.Capabilities))
	for i, cd := range doc.Capabilities {
		if cd.Kind == "" {
			return nil, fmt.Errorf("decoding job %q: capability %d has no kind", doc.Name, i)
		}
		factory, ok := lookupKind(cd.Kind)
		if !ok {
			caps = append(caps, &Unknown{kind: cd.Kind, config: cd.Config})
			continue
		}
		c := factory()
		if !cd.Config.IsZero() {
			if err := cd.Config.Decode(c); err != nil {
				return nil, fmt.Errorf("decoding job %q: %s capability: %w", doc.Name, cd.Kind, err)
			}
		}
		caps = append(caps, c)
	}

	return NewJob(doc.Name, doc.DisplayName, caps...), nil
}

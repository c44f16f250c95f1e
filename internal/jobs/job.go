// Package jobs holds persistent job definitions and the ordered list of
// build-time capabilities attached to each of them.
//
// It is intended for internal use by mask-enroller only.
package jobs

import (
	"slices"
	"sync"
)

// Capability is a unit of build-time behaviour attached to a job. Kind names
// the capability in persisted job configuration.
type Capability interface {
	Kind() string
}

// Job is a persistent, named build configuration.
type Job struct {
	Name        string
	DisplayName string

	mu           sync.Mutex
	capabilities []Capability
}

// NewJob returns a job with the given capabilities, in order.
func NewJob(name, displayName string, caps ...Capability) *Job {
	return &Job{
		Name:         name,
		DisplayName:  displayName,
		capabilities: slices.Clone(caps),
	}
}

// FullDisplayName is the display name if set, otherwise the name.
func (j *Job) FullDisplayName() string {
	if j.DisplayName != "" {
		return j.DisplayName
	}
	return j.Name
}

// Capabilities returns a copy of the job's capability list.
func (j *Job) Capabilities() []Capability {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.capabilities)
}

// AddCapability appends c to the capability list. The list does not enforce
// uniqueness.
func (j *Job) AddCapability(c Capability) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.capabilities = append(j.capabilities, c)
}

// HasCapability reports whether any capability satisfies match.
func (j *Job) HasCapability(match func(Capability) bool) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.ContainsFunc(j.capabilities, match)
}

func (j *Job) String() string {
	return j.FullDisplayName()
}

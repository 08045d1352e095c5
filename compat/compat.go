// Package compat lets an embedding program assert it is talking to a
// heap implementation with a compatible in-memory layout before calling
// heap.Init, the same defensive-versioning check a plugin host runs
// before trusting a loaded module.
package compat

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the ABI version of this module's heap layout: word width,
// alignment, boundary-tag encoding and free-list link encoding. Bump
// the major component whenever any of those change in a way that
// would make an old heap image unreadable by a new build.
const Version = "1.0.0"

// CheckHostRequirement reports an error if Version does not satisfy
// constraint (a semver constraint string such as ">=1.0.0, <2.0.0").
func CheckHostRequirement(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("compat: invalid constraint %q: %w", constraint, err)
	}

	v, err := semver.NewVersion(Version)
	if err != nil {
		return fmt.Errorf("compat: invalid module version %q: %w", Version, err)
	}

	if !c.Check(v) {
		return fmt.Errorf("compat: heap ABI version %s does not satisfy %q", Version, constraint)
	}

	return nil
}

package route

import (
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/morezero/comms-gateway/pkg/commsutil"
)

// Version is one known version of a routed service.
type Version struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
	// Status is "active", "deprecated", or "disabled". Disabled versions
	// never resolve.
	Status string `json:"status,omitempty"`
}

// String returns the SemVer string for the version.
func (v Version) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		return base + "-" + v.Prerelease
	}
	return base
}

// Resolved is the outcome of resolving a versioned target.
type Resolved struct {
	App     string
	Name    string
	Version Version
	Subject string
}

// Table is the static route table consulted at engine construction. It is
// built once and read-only afterwards.
type Table struct {
	entries map[string][]Version
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{entries: make(map[string][]Version)}
}

// Add records a known version for app.name.
func (t *Table) Add(app, name string, v Version) {
	key := app + "." + name
	if v.Status == "" {
		v.Status = "active"
	}
	t.entries[key] = append(t.entries[key], v)
}

// Resolve resolves a target to a concrete subject. Literal subjects pass
// through untouched; versioned references resolve against known versions
// and fail when nothing matches.
func (t *Table) Resolve(target string) (*Resolved, error) {
	if !IsVersionedRef(target) {
		return &Resolved{Subject: target}, nil
	}

	ref, err := ParseTargetRef(target)
	if err != nil {
		return nil, err
	}

	versions := t.entries[ref.App+"."+ref.Name]
	match := resolveVersion(versions, ref.Range)
	if match == nil {
		return nil, fmt.Errorf("route: no version of %s.%s satisfies %q", ref.App, ref.Name, ref.Range)
	}

	return &Resolved{
		App:     ref.App,
		Name:    ref.Name,
		Version: *match,
		Subject: commsutil.BuildMethodSubject(ref.App, ref.Name, match.Major),
	}, nil
}

// resolveVersion picks the best match for a range: empty range takes the
// latest active version, a major-only range the latest within that major,
// and anything else is evaluated as a SemVer constraint with the highest
// satisfying version winning. Active versions are preferred over
// deprecated ones.
func resolveVersion(versions []Version, rangeStr string) *Version {
	candidates := make([]Version, 0, len(versions))
	for _, v := range versions {
		if v.Status == "disabled" {
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return nil
	}

	if rangeStr == "" {
		sortVersionsDesc(candidates)
		return preferActive(candidates)
	}

	if IsMajorOnly(rangeStr) {
		var major int
		fmt.Sscanf(rangeStr, "%d", &major)
		var inMajor []Version
		for _, v := range candidates {
			if v.Major == major {
				inMajor = append(inMajor, v)
			}
		}
		if len(inMajor) == 0 {
			return nil
		}
		sortVersionsDesc(inMajor)
		return preferActive(inMajor)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return nil
	}
	var matching []Version
	for _, v := range candidates {
		sv, err := masterminds.NewVersion(v.String())
		if err != nil {
			continue
		}
		if constraint.Check(sv) {
			matching = append(matching, v)
		}
	}
	if len(matching) == 0 {
		return nil
	}
	sortVersionsDesc(matching)
	return preferActive(matching)
}

func sortVersionsDesc(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if a.Major != b.Major {
			return a.Major > b.Major
		}
		if a.Minor != b.Minor {
			return a.Minor > b.Minor
		}
		if a.Patch != b.Patch {
			return a.Patch > b.Patch
		}
		// Release sorts ahead of prerelease.
		return a.Prerelease == "" && b.Prerelease != ""
	})
}

func preferActive(sorted []Version) *Version {
	for i := range sorted {
		if sorted[i].Status == "active" {
			return &sorted[i]
		}
	}
	return &sorted[0]
}

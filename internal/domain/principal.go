package domain

import "strings"

// Capability is a bit set of what a principal may do.
type Capability uint8

const (
	CapBrowse Capability = 1 << iota
	CapUpload
	CapDelete
	CapAdmin
)

const CapAll = CapBrowse | CapUpload | CapDelete | CapAdmin

var roleCaps = map[string]Capability{
	"viewer":   CapBrowse,
	"uploader": CapBrowse | CapUpload,
	"deleter":  CapBrowse | CapDelete,
	"admin":    CapAll,
}

// ValidRole reports whether name is one of the known roles.
func ValidRole(name string) bool {
	_, ok := roleCaps[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// CapsForRoles folds role names into a capability set. Unknown roles grant nothing.
func CapsForRoles(roles []string) Capability {
	var c Capability
	for _, r := range roles {
		c |= roleCaps[strings.ToLower(strings.TrimSpace(r))]
	}
	return c
}

func (c Capability) Has(want Capability) bool {
	return c&want == want
}

func (c Capability) Names() []string {
	names := make([]string, 0, 4)
	if c.Has(CapBrowse) {
		names = append(names, "browse")
	}
	if c.Has(CapUpload) {
		names = append(names, "upload")
	}
	if c.Has(CapDelete) {
		names = append(names, "delete")
	}
	if c.Has(CapAdmin) {
		names = append(names, "admin")
	}
	return names
}

// Principal is the authenticated caller. Roots holds raw configured restrictions;
// empty means every global root.
type Principal struct {
	Username string
	Caps     Capability
	Roots    []string
}

func (p Principal) Can(c Capability) bool {
	return p.Caps.Has(c)
}

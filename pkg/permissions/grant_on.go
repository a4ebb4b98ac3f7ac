package permissions

import "fmt"

// GrantOn describes which part of the page tree a page permission covers
type GrantOn int

const (
	AccessPage               GrantOn = 1
	AccessChildren           GrantOn = 2
	AccessPageAndChildren    GrantOn = 3
	AccessDescendants        GrantOn = 4
	AccessPageAndDescendants GrantOn = 5
)

// DefaultGrantOn is used for page permissions derived from a role
const DefaultGrantOn = AccessPageAndDescendants

func (g GrantOn) String() string {
	switch g {
	case AccessPage:
		return "page"
	case AccessChildren:
		return "children"
	case AccessPageAndChildren:
		return "page_and_children"
	case AccessDescendants:
		return "descendants"
	case AccessPageAndDescendants:
		return "page_and_descendants"
	}
	return fmt.Sprintf("grant_on(%d)", int(g))
}

// Valid reports whether g is a known scope
func (g GrantOn) Valid() bool {
	return g >= AccessPage && g <= AccessPageAndDescendants
}

// CoversPage reports whether a permission attached to a page applies to that page itself
func (g GrantOn) CoversPage() bool {
	return g == AccessPage || g == AccessPageAndChildren || g == AccessPageAndDescendants
}

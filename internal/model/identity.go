package model

import "fmt"

// Kind distinguishes the two artifact families the builder knows about:
// recipes that run inside the sandbox, and raw fetches of upstream files.
type Kind string

const (
	KindRecipe Kind = "recipe"
	KindFetch  Kind = "fetch"
)

// Identity is the stable name of a node across build runs. For recipes it is
// a name/version pair; for fetches the Name holds the normalized URL and the
// Version is empty.
type Identity struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// RecipeIdentity builds the identity of a recipe version.
func RecipeIdentity(name, version string) Identity {
	return Identity{Kind: KindRecipe, Name: name, Version: version}
}

// FetchIdentity builds the identity of a fetched resource from its
// normalized URL.
func FetchIdentity(url string) Identity {
	return Identity{Kind: KindFetch, Name: url}
}

// String renders the identity in the canonical "kind:name/version" form used
// throughout logs and reports.
func (id Identity) String() string {
	if id.Version == "" {
		return fmt.Sprintf("%s:%s", id.Kind, id.Name)
	}
	return fmt.Sprintf("%s:%s/%s", id.Kind, id.Name, id.Version)
}

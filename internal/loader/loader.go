// Package loader reads a recipes directory into validated descriptors.
//
// Layout: <recipes>/<name>/versions.json names each version's folder;
// <recipes>/<name>/<folder>/recipe.json declares the recipe itself. Both
// documents are validated against embedded JSON schemas. Malformed recipes
// are skipped with a warning rather than failing the whole build.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/plotforge/plotforge/internal/ctxlog"
	"github.com/plotforge/plotforge/internal/fetch"
	"github.com/plotforge/plotforge/internal/model"
)

// recipeCommands maps a declared recipe_type to the sandbox entrypoint.
var recipeCommands = map[string][]string{
	"python": {"python", "recipe/generate.py"},
}

// Warning records one recipe that was skipped during loading and why.
type Warning struct {
	Recipe string
	Reason string
}

type rawVersion struct {
	Folder string `json:"folder"`
}

type rawDependency struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	FileName   string `json:"file_name"`
	RecipeName string `json:"recipe_name"`
	Version    string `json:"version"`
}

type rawLimits struct {
	Memory       string   `json:"memory"`
	CPUs         float64  `json:"cpus"`
	Timeout      string   `json:"timeout"`
	Network      string   `json:"network"`
	AllowedHosts []string `json:"allowed_hosts"`
}

type rawRecipe struct {
	RecipeType   string          `json:"recipe_type"`
	Dependencies []rawDependency `json:"dependencies"`
	Outputs      []string        `json:"outputs"`
	Limits       *rawLimits      `json:"limits"`
}

// Loader reads descriptors from one recipes directory.
type Loader struct {
	recipesDir string
}

// New creates a loader over the given recipes directory.
func New(recipesDir string) *Loader {
	return &Loader{recipesDir: recipesDir}
}

// Load walks the recipes directory and returns every valid descriptor:
// recipe descriptors plus one interned fetch descriptor per distinct
// normalized URL. Skipped recipes are reported as warnings.
func (l *Loader) Load(ctx context.Context) ([]*model.Descriptor, []Warning, error) {
	logger := ctxlog.FromContext(ctx)

	entries, err := os.ReadDir(l.recipesDir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading recipes directory: %w", err)
	}

	var (
		descriptors []*model.Descriptor
		warnings    []Warning
		fetches     = make(map[string]*model.Descriptor)
	)
	warn := func(recipe, format string, args ...any) {
		reason := fmt.Sprintf(format, args...)
		logger.Warn("skipping recipe", "recipe", recipe, "reason", reason)
		warnings = append(warnings, Warning{Recipe: recipe, Reason: reason})
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		recipeDir := filepath.Join(l.recipesDir, name)

		versions, err := l.loadVersions(recipeDir)
		if err != nil {
			warn(name, "%v", err)
			continue
		}

		versionNames := make([]string, 0, len(versions))
		for v := range versions {
			versionNames = append(versionNames, v)
		}
		sort.Strings(versionNames)

		for _, version := range versionNames {
			id := name + "/" + version
			desc, err := l.loadRecipe(name, version, versions[version], fetches)
			if err != nil {
				warn(id, "%v", err)
				continue
			}
			descriptors = append(descriptors, desc)
			logger.Debug("loaded recipe", "recipe", id)
		}
	}

	// Interned fetches come after the recipes that declared them, sorted
	// for deterministic output.
	urls := make([]string, 0, len(fetches))
	for url := range fetches {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	for _, url := range urls {
		descriptors = append(descriptors, fetches[url])
	}

	return descriptors, warnings, nil
}

func (l *Loader) loadVersions(recipeDir string) (map[string]rawVersion, error) {
	data, err := os.ReadFile(filepath.Join(recipeDir, "versions.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("'versions.json' not found")
		}
		return nil, fmt.Errorf("reading versions.json: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing versions.json: %w", err)
	}
	if err := versionsSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("'versions.json' has invalid scheme: %v", err)
	}

	var versions map[string]rawVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("parsing versions.json: %w", err)
	}
	return versions, nil
}

func (l *Loader) loadRecipe(name, version string, v rawVersion, fetches map[string]*model.Descriptor) (*model.Descriptor, error) {
	sourcePath := filepath.Join(l.recipesDir, name, v.Folder)
	data, err := os.ReadFile(filepath.Join(sourcePath, "recipe.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("'recipe.json' not found")
		}
		return nil, fmt.Errorf("reading recipe.json: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing recipe.json: %w", err)
	}
	if err := recipeSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("'recipe.json' has invalid scheme: %v", err)
	}

	var raw rawRecipe
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing recipe.json: %w", err)
	}

	command, ok := recipeCommands[raw.RecipeType]
	if !ok {
		return nil, fmt.Errorf("unknown recipe type %q", raw.RecipeType)
	}

	limits, err := parseLimits(raw.Limits)
	if err != nil {
		return nil, err
	}

	desc := &model.Descriptor{
		Identity:   model.RecipeIdentity(name, version),
		Command:    command,
		Outputs:    raw.Outputs,
		Limits:     limits,
		SourcePath: sourcePath,
	}

	digest, err := hashDir(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("digesting recipe source: %w", err)
	}
	desc.SourceDigest = digest

	for _, dep := range raw.Dependencies {
		ref, err := l.resolveDependency(dep, fetches)
		if err != nil {
			return nil, err
		}
		desc.Dependencies = append(desc.Dependencies, ref)
	}
	return desc, nil
}

// resolveDependency converts one declared dependency into a DependencyRef,
// interning fetch targets so that every distinct URL is downloaded once.
func (l *Loader) resolveDependency(dep rawDependency, fetches map[string]*model.Descriptor) (model.DependencyRef, error) {
	switch dep.Type {
	case "build":
		id := model.RecipeIdentity(dep.RecipeName, dep.Version)
		return model.DependencyRef{
			Identity: id,
			Mount:    fmt.Sprintf("recipes/%s/%s/data", dep.RecipeName, dep.Version),
		}, nil

	case "fetch":
		url, err := fetch.NormalizeURL(dep.URL)
		if err != nil {
			return model.DependencyRef{}, err
		}
		if _, ok := fetches[url]; !ok {
			host, err := fetch.URLHost(url)
			if err != nil {
				return model.DependencyRef{}, err
			}
			fetches[url] = &model.Descriptor{
				Identity:      model.FetchIdentity(url),
				FetchURL:      url,
				FetchFileName: fetch.FileNameFromURL(url),
				Limits: model.ResourceLimits{
					// A fetch node may reach exactly its own target.
					Network:      model.NetworkAllowList,
					AllowedHosts: []string{host},
				},
			}
		}

		fileName := dep.FileName
		if fileName == "" {
			fileName = fetch.FileNameFromURL(url)
		}
		return model.DependencyRef{
			Identity: model.FetchIdentity(url),
			Mount:    "fetch/" + fileName,
		}, nil
	}
	return model.DependencyRef{}, fmt.Errorf("unknown dependency type %q", dep.Type)
}

func parseLimits(raw *rawLimits) (model.ResourceLimits, error) {
	var limits model.ResourceLimits
	if raw == nil {
		return limits, nil
	}
	limits.Memory = raw.Memory
	limits.CPUs = raw.CPUs
	limits.AllowedHosts = raw.AllowedHosts

	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return limits, fmt.Errorf("invalid timeout %q: %w", raw.Timeout, err)
		}
		limits.Timeout = timeout
	}
	switch raw.Network {
	case "", string(model.NetworkNone):
		limits.Network = model.NetworkNone
	case string(model.NetworkAllowList):
		limits.Network = model.NetworkAllowList
	default:
		return limits, fmt.Errorf("unknown network mode %q", raw.Network)
	}
	return limits, nil
}

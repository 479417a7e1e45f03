package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
)

// DefaultCategories are the model directories every manifest starts with
var DefaultCategories = []string{
	"checkpoints",
	"vae",
	"unet",
	"diffusion_models",
	"text_encoders",
	"loras",
	"upscale_models",
	"clip",
	"controlnet",
	"clip_vision",
	"ipadapter",
	"style_models",
}

// Manifest maps a model category to the artifact URLs expected in it.
// Only names matter: it is used to tell missing artifacts from present ones.
type Manifest map[string][]string

// DefaultManifest has every default category and no artifacts
func DefaultManifest() Manifest {
	m := make(Manifest, len(DefaultCategories))
	for _, c := range DefaultCategories {
		m[c] = []string{}
	}
	return m
}

// ParseManifest reads a manifest. Comments and trailing commas are
// tolerated. Besides the category object form, a bare list of URLs is
// accepted and filed under checkpoints. Non-http entries are ignored.
func ParseManifest(b []byte) (Manifest, error) {
	b = jsonc.ToJSON(b)

	var list []interface{}
	if err := json.Unmarshal(b, &list); err == nil {
		return Manifest{"checkpoints": urlsOf(list)}, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}
	m := make(Manifest, len(raw))
	for category, v := range raw {
		switch v := v.(type) {
		case []interface{}:
			m[category] = urlsOf(v)
		case string:
			m[category] = urlsOf([]interface{}{v})
		}
	}
	return m, nil
}

func urlsOf(values []interface{}) []string {
	urls := []string{}
	for _, v := range values {
		if s, ok := v.(string); ok && strings.HasPrefix(s, "http") {
			urls = append(urls, s)
		}
	}
	return urls
}

// Categories returns the category names in alphabetical order
func (m Manifest) Categories() []string {
	categories := make([]string, 0, len(m))
	for c := range m {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return categories
}

// Total is the number of artifacts over all categories
func (m Manifest) Total() int {
	var total int
	for _, urls := range m {
		total += len(urls)
	}
	return total
}

// Marshal encodes the manifest the way it is stored on disk
func (m Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "    ")
}

// ArtifactName is the file name an artifact URL is stored under
func ArtifactName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

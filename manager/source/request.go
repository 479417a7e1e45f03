package source

import (
	"fmt"
	"path"
	"strings"
)

const DefaultModelType = "loras"

// Item is one artifact of a download request
type Item struct {
	URL       string `json:"url"`
	ModelType string `json:"model_type,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// Request is the body of POST /download/{source}. A single artifact may be
// given with the top-level url fields, a batch with urls or items.
type Request struct {
	URL       string   `json:"url,omitempty"`
	URLs      []string `json:"urls,omitempty"`
	Items     []Item   `json:"items,omitempty"`
	APIKey    string   `json:"api_key,omitempty"`
	ModelType string   `json:"model_type,omitempty"`
	Filename  string   `json:"filename,omitempty"`
}

// Batch flattens the request into items, filling in the default model type
func (r Request) Batch() []Item {
	modelType := r.ModelType
	if modelType == "" {
		modelType = DefaultModelType
	}
	var items []Item
	if r.URL != "" {
		items = append(items, Item{URL: r.URL, ModelType: modelType, Filename: r.Filename})
	}
	for _, u := range r.URLs {
		items = append(items, Item{URL: u, ModelType: modelType})
	}
	for _, item := range r.Items {
		if item.ModelType == "" {
			item.ModelType = modelType
		}
		items = append(items, item)
	}
	return items
}

// CheckPath rejects a model type or file name that would leave the models
// directory
func CheckPath(p string) error {
	if strings.Contains(p, "..") || path.IsAbs(p) {
		return fmt.Errorf("invalid path: %q", p)
	}
	return nil
}

// Validate rejects empty requests and paths escaping the models directory
func (r Request) Validate() error {
	items := r.Batch()
	if len(items) == 0 {
		return fmt.Errorf("no url given")
	}
	for _, item := range items {
		if item.URL == "" {
			return fmt.Errorf("empty url")
		}
		for _, p := range []string{item.ModelType, item.Filename} {
			if err := CheckPath(p); err != nil {
				return err
			}
		}
		if strings.Contains(item.Filename, "/") {
			return fmt.Errorf("invalid filename: %q", item.Filename)
		}
	}
	return nil
}

package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

var aria2Flags = []string{
	"--console-log-level=error",
	"-c",
	"-x", "16",
	"-s", "16",
	"-k", "1M",
	"--file-allocation=none",
	"--optimize-concurrent-downloads=true",
	"--max-connection-per-server=16",
	"--min-split-size=1M",
	"--max-tries=5",
	"--retry-wait=10",
	"--connect-timeout=30",
	"--timeout=600",
}

// ModelDir resolves the directory of a model type under root. The type may
// carry a "models/" prefix.
func ModelDir(root, modelType string) string {
	return filepath.Join(root, "models", strings.TrimPrefix(modelType, "models/"))
}

// Command returns the argv downloading item from src into its model
// directory under root. apiKey is only used by civitai.
func Command(src model.JobSource, item Item, apiKey, root string) ([]string, error) {
	dir := ModelDir(root, item.ModelType)

	switch src {
	case model.SourceCivitai:
		u := item.URL
		if apiKey != "" {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + "token=" + apiKey
		}
		argv := append(append([]string{"aria2c"}, aria2Flags...), u, "-d", dir)
		if item.Filename != "" {
			argv = append(argv, "-o", item.Filename)
		}
		return argv, nil

	case model.SourceHuggingFace, model.SourceDirect:
		name := item.Filename
		if name == "" {
			name = model.ArtifactName(item.URL)
		}
		argv := append(append([]string{"aria2c"}, aria2Flags...), item.URL, "-d", dir)
		if name != "" {
			argv = append(argv, "-o", name)
		}
		return argv, nil

	case model.SourceGDrive:
		out := dir + string(filepath.Separator)
		if item.Filename != "" {
			out = filepath.Join(dir, item.Filename)
		}
		return []string{"gdown", "--id", DriveFileID(item.URL), "-O", out}, nil
	}
	return nil, fmt.Errorf("unknown source: %q", src)
}

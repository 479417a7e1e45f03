// Package source knows the download sources of model artifacts: how to tell
// them apart by URL and how to fetch from each.
package source

import (
	"net/url"
	"strings"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

var hosts = map[string]model.JobSource{
	"civitai.com":      model.SourceCivitai,
	"huggingface.co":   model.SourceHuggingFace,
	"hf.co":            model.SourceHuggingFace,
	"drive.google.com": model.SourceGDrive,
}

// Classify returns the source serving rawURL, SourceDirect for any other host
func Classify(rawURL string) model.JobSource {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.SourceDirect
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for suffix, src := range hosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return src
		}
	}
	return model.SourceDirect
}

// DriveFileID extracts the file id of a Google Drive link. Anything that is
// not a Drive URL is taken to be an id already.
func DriveFileID(rawURL string) string {
	if !strings.Contains(rawURL, "drive.google.com") {
		return rawURL
	}
	if i := strings.Index(rawURL, "/file/d/"); i >= 0 {
		return strings.SplitN(rawURL[i+len("/file/d/"):], "/", 2)[0]
	}
	if u, err := url.Parse(rawURL); err == nil {
		if id := u.Query().Get("id"); id != "" {
			return id
		}
	}
	return rawURL
}

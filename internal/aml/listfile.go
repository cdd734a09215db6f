package aml

import (
	"encoding/json"
	"fmt"
	"os"
)

// FileListSource reads screening lists from a JSON file on disk. Compliance
// teams drop updated list exports at the configured path; each call re-reads
// the file, so a Refresher polling this source picks up changes without a
// restart.
//
// File format:
//
//	{
//	  "sanctions": [{"name": "Iran Bank X", "list": "ofac"}],
//	  "peps":      [{"name": "Vladimir Putin", "level": "direct"}]
//	}
type FileListSource struct {
	Path string
}

type listFile struct {
	Sanctions []struct {
		Name string   `json:"name"`
		List ListType `json:"list"`
	} `json:"sanctions"`
	PEPs []struct {
		Name  string   `json:"name"`
		Level PEPLevel `json:"level"`
	} `json:"peps"`
}

// Load parses the file once. Used by the refresher to distinguish a bad file
// from an empty one; a parse error keeps the previous lists in service.
func (f *FileListSource) Load() (*StaticListSource, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read screening lists: %w", err)
	}

	var parsed listFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse screening lists %s: %w", f.Path, err)
	}

	src := &StaticListSource{}
	for _, s := range parsed.Sanctions {
		src.Sanctions = append(src.Sanctions, SanctionsEntry{Name: s.Name, List: s.List})
	}
	for _, p := range parsed.PEPs {
		src.PEPs = append(src.PEPs, PEPEntry{Name: p.Name, Level: p.Level})
	}
	return src, nil
}

func (f *FileListSource) SanctionsEntries() []SanctionsEntry {
	src, err := f.Load()
	if err != nil {
		return nil
	}
	return src.Sanctions
}

func (f *FileListSource) PEPEntries() []PEPEntry {
	src, err := f.Load()
	if err != nil {
		return nil
	}
	return src.PEPs
}

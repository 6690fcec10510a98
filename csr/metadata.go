package csr

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// metadata is the part of a design's interface metadata file that holds the
// bus annotations.
type metadata struct {
	Interface struct {
		Members struct {
			Bus struct {
				Annotations Annotations `json:"annotations"`
			} `json:"bus"`
		} `json:"members"`
	} `json:"interface"`
}

// LoadMetadata reads interface metadata JSON and returns the bus annotations.
func LoadMetadata(r io.Reader) (Annotations, error) {
	var md metadata
	if err := json.NewDecoder(r).Decode(&md); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	a := md.Interface.Members.Bus.Annotations
	if a == nil {
		return nil, fmt.Errorf("metadata: %w: no interface.members.bus.annotations", ErrSchemaMismatch)
	}
	return a, nil
}

func LoadMetadataFile(path string) (Annotations, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a, err := LoadMetadata(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

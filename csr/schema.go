package csr

import (
	"encoding/json"
	"fmt"
)

// Schema identifiers keying the fragments of an annotation object.
const (
	MemoryMapSchema = "https://amaranth-lang.org/schema/amaranth-soc/0.1/memory/memory-map.json"
	BusSchema       = "https://amaranth-lang.org/schema/amaranth-soc/0.1/csr/bus.json"
)

// Annotations maps schema identifiers to their JSON fragments.
type Annotations map[string]json.RawMessage

// MemoryMapDesc is the memory-map fragment. Window and resource order is
// significant and preserved as decoded.
type MemoryMapDesc struct {
	AddrWidth int            `json:"addr_width"`
	DataWidth int            `json:"data_width"`
	Alignment int            `json:"alignment"`
	Windows   []WindowDesc   `json:"windows"`
	Resources []ResourceDesc `json:"resources"`
}

type WindowDesc struct {
	Name        []string    `json:"name"`
	Start       uint64      `json:"start"`
	End         uint64      `json:"end"`
	Ratio       int         `json:"ratio"`
	Annotations Annotations `json:"annotations"`
}

type ResourceDesc struct {
	Name        []string                   `json:"name"`
	Start       uint64                     `json:"start"`
	End         uint64                     `json:"end"`
	Annotations map[string]json.RawMessage `json:"annotations"`
}

// BusDesc is the CSR bus fragment.
type BusDesc struct {
	AddrWidth int `json:"addr_width"`
	DataWidth int `json:"data_width"`
}

func (a Annotations) decode(schema string, v interface{}) error {
	raw, ok := a[schema]
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrSchemaMismatch, schema)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaMismatch, schema, err)
	}
	return nil
}

// MemoryMap decodes the memory-map fragment.
func (a Annotations) MemoryMap() (d MemoryMapDesc, err error) {
	err = a.decode(MemoryMapSchema, &d)
	return
}

// Bus decodes the CSR bus fragment.
func (a Annotations) Bus() (d BusDesc, err error) {
	err = a.decode(BusSchema, &d)
	return
}

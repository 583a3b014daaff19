package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	AttrLevel  = "Level"
	AttrStatus = "Room Status"
)

var ErrDuplicateRoom = errors.New("duplicate room name")

// Record is one room: its unique name and attribute bag.
type Record struct {
	Name       string     `json:"name" yaml:"name"`
	Attributes Attributes `json:"attributes" yaml:"attributes"`
}

// Dataset is a snapshot of a facility's rooms keyed by name. It remembers insertion
// order so that iteration, and therefore tie ordering, is deterministic.
// A Dataset is not safe for concurrent mutation; callers build it once and then only read.
type Dataset struct {
	order   []string
	records map[string]Record
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{records: make(map[string]Record)}
}

// FromRecords builds a dataset, rejecting duplicate or empty names.
func FromRecords(records []Record) (*Dataset, error) {
	ds := NewDataset()
	for _, r := range records {
		if err := ds.Add(r.Name, r.Attributes); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Add appends a room. Names must be unique and numeric values finite.
func (d *Dataset) Add(name string, attrs Attributes) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("room name is empty")
	}
	if _, exists := d.records[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRoom, name)
	}
	for attr, v := range attrs {
		if !v.finite() {
			return fmt.Errorf("room %s, attribute %s: %w", name, attr, ErrNonFinite)
		}
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	d.order = append(d.order, name)
	d.records[name] = Record{Name: name, Attributes: attrs}
	return nil
}

// Len returns the number of rooms. A nil dataset is empty.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.order)
}

// Get looks up a room by name.
func (d *Dataset) Get(name string) (Record, bool) {
	if d == nil {
		return Record{}, false
	}
	r, ok := d.records[name]
	return r, ok
}

// Names returns room names in iteration order.
func (d *Dataset) Names() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Records returns the rooms in iteration order.
func (d *Dataset) Records() []Record {
	if d == nil {
		return nil
	}
	out := make([]Record, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.records[name])
	}
	return out
}

func (d *Dataset) MarshalJSON() ([]byte, error) {
	records := d.Records()
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

func (d *Dataset) UnmarshalJSON(data []byte) error {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	ds, err := FromRecords(records)
	if err != nil {
		return err
	}
	*d = *ds
	return nil
}

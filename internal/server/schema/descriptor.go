// Package schema reads dictionary descriptors, checks the shape of
// uploaded cases against them and caches parsed descriptors by name.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/casetables"
)

// Item is a dictionary variable.
type Item struct {
	Name        string `json:"name"`
	Length      int    `json:"length"`
	ContentType string `json:"contentType"`
}

// Binary reports whether the item holds an attachment rather than text.
// A missing content type is numeric.
func (i Item) Binary() bool {
	switch strings.ToLower(i.ContentType) {
	case "", "numeric", "alpha":
		return false
	}
	return true
}

type label struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type record struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

type level struct {
	Name string `json:"name"`
	IDs  struct {
		Items []Item `json:"items"`
	} `json:"ids"`
	Records []record `json:"records"`
}

type document struct {
	Name   string  `json:"name"`
	Labels []label `json:"labels"`
	Levels []level `json:"levels"`
}

// Descriptor is the part of a dictionary the sync engine needs.
type Descriptor struct {
	Name        string
	Label       string
	IDItems     []Item
	BinaryItems []Item
}

// HasBinaryItems decides whether downloads are binary framed.
func (d *Descriptor) HasBinaryItems() bool {
	return len(d.BinaryItems) > 0
}

// IDLength is the width of the first level's case id list.
func (d *Descriptor) IDLength() int {
	n := 0
	for _, it := range d.IDItems {
		n += it.Length
	}
	return n
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Parse reads a JSON dictionary. The name must be usable as a table name
// and at least one level must be present.
func Parse(content []byte) (*Descriptor, error) {
	content = bytes.TrimPrefix(content, bom)

	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: dictionary is not valid JSON: %v", common.ErrValidation, err)
	}
	if !casetables.ValidName(doc.Name) {
		return nil, fmt.Errorf("%w: %q is not a valid dictionary name", common.ErrValidation, doc.Name)
	}
	if len(doc.Levels) == 0 {
		return nil, fmt.Errorf("%w: dictionary %s has no levels", common.ErrValidation, doc.Name)
	}

	d := &Descriptor{Name: doc.Name, Label: primaryLabel(doc.Labels, doc.Name)}
	d.IDItems = doc.Levels[0].IDs.Items
	for _, lv := range doc.Levels {
		for _, it := range lv.IDs.Items {
			if it.Binary() {
				d.BinaryItems = append(d.BinaryItems, it)
			}
		}
		for _, rec := range lv.Records {
			for _, it := range rec.Items {
				if it.Binary() {
					d.BinaryItems = append(d.BinaryItems, it)
				}
			}
		}
	}
	return d, nil
}

// primaryLabel picks the label without a language, else the first one.
func primaryLabel(labels []label, fallback string) string {
	for _, l := range labels {
		if l.Language == "" && l.Text != "" {
			return l.Text
		}
	}
	if len(labels) > 0 && labels[0].Text != "" {
		return labels[0].Text
	}
	return fallback
}

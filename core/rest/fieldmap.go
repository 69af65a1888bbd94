package rest

import "fmt"

// FieldMap translates between storage field names and the wire names a
// resource exposes. It is compiled once at startup from the resource
// configuration.
//
// The document identifier "_id" is always exposed as "id". Hidden fields do
// not exist on the wire at all: they are stripped from responses and rejected
// in field selections, filters and orderings. A storage field whose name was
// renamed away is not addressable under its storage name either, so hiding
// and renaming cannot be bypassed.
//
// Rename collisions are only fully detectable when the resource declares an
// explicit field list. Without one, the set of storage fields is open, and a
// rename target that happens to match a passthrough field of some stored
// document cannot be caught at startup; such documents serialize with one of
// the two values winning. Declare the fields to get the startup check.
type FieldMap struct {
	toWire    map[string]string
	toStorage map[string]string
	hidden    map[string]bool
	renamed   map[string]bool
	explicit  bool
}

func newFieldMap(fields []string, rename map[string]string, hidden []string) (*FieldMap, error) {
	fm := &FieldMap{
		toWire:    map[string]string{"_id": "id"},
		toStorage: map[string]string{"id": "_id"},
		hidden:    map[string]bool{},
		renamed:   map[string]bool{"_id": true},
		explicit:  len(fields) > 0,
	}

	for _, f := range hidden {
		if f == "_id" {
			return nil, fmt.Errorf("the document identifier cannot be hidden")
		}
		fm.hidden[f] = true
	}

	fieldSet := map[string]bool{}
	for _, f := range fields {
		fieldSet[f] = true
	}

	for storage, wire := range rename {
		if fm.hidden[storage] {
			return nil, fmt.Errorf("field %q is hidden and cannot be renamed", storage)
		}
		if fm.explicit && !fieldSet[storage] && storage != "_id" {
			return nil, fmt.Errorf("rename of %q, which is not a declared field", storage)
		}
		if previous, ok := fm.toStorage[wire]; ok {
			return nil, fmt.Errorf("rename collision: both %q and %q map to wire name %q", previous, storage, wire)
		}
		fm.toWire[storage] = wire
		fm.toStorage[wire] = storage
		fm.renamed[storage] = true
	}

	if fm.explicit {
		for _, f := range fields {
			if fm.hidden[f] {
				continue
			}
			if _, ok := fm.toWire[f]; ok {
				continue
			}
			if previous, ok := fm.toStorage[f]; ok {
				return nil, fmt.Errorf("rename collision: %q renamed to %q collides with field %q", previous, f, f)
			}
			fm.toWire[f] = f
			fm.toStorage[f] = f
		}
	}

	return fm, nil
}

// WireName returns the wire name for a storage field, or false if the field
// is hidden or not exposed.
func (fm *FieldMap) WireName(storage string) (string, bool) {
	if fm.hidden[storage] {
		return "", false
	}
	if wire, ok := fm.toWire[storage]; ok {
		return wire, true
	}
	if fm.explicit || fm.renamed[storage] {
		return "", false
	}
	return storage, true
}

// StorageName returns the storage field for a wire name, or false if no such
// field is exposed.
func (fm *FieldMap) StorageName(wire string) (string, bool) {
	if storage, ok := fm.toStorage[wire]; ok {
		return storage, true
	}
	if fm.explicit || fm.hidden[wire] || fm.renamed[wire] {
		return "", false
	}
	return wire, true
}

// RenameToStorage translates an incoming wire document to storage names.
// Keys that address hidden or non-exposed fields are dropped, so a client
// cannot smuggle values into fields it cannot see.
func (fm *FieldMap) RenameToStorage(doc Document) Document {
	out := make(Document, len(doc))
	for wire, value := range doc {
		storage, ok := fm.StorageName(wire)
		if !ok {
			continue
		}
		if fm.hidden[storage] {
			continue
		}
		out[storage] = value
	}
	return out
}

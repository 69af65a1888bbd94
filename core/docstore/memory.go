package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/relabs-tech/docrest/core/rest"
)

// MemoryStore implements rest.Store in memory. It exists for hermetic tests
// and examples; it evaluates the same query plans the mongo store does, just
// without a database.
type MemoryStore struct {
	mutex       sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	order []string
	docs  map[string]rest.Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) collection(name string) *memoryCollection {
	coll, ok := s.collections[name]
	if !ok {
		coll = &memoryCollection{docs: make(map[string]rest.Document)}
		s.collections[name] = coll
	}
	return coll
}

// Find implements rest.Store
func (s *MemoryStore) Find(ctx context.Context, collection string, plan *rest.QueryPlan) ([]rest.Document, int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return []rest.Document{}, 0, nil
	}

	var matching []rest.Document
	for _, id := range coll.order {
		doc := coll.docs[id]
		matched, err := matchesAll(doc, plan.Filter)
		if err != nil {
			return nil, 0, err
		}
		if matched {
			matching = append(matching, doc)
		}
	}
	totalCount := int64(len(matching))

	if plan.Order != nil {
		field, descending := plan.Order.Field, plan.Order.Descending
		sort.SliceStable(matching, func(i, j int) bool {
			c := compareValues(matching[i][field], matching[j][field])
			if descending {
				return c > 0
			}
			return c < 0
		})
	}

	if plan.Skip > 0 {
		if plan.Skip >= totalCount {
			matching = nil
		} else {
			matching = matching[plan.Skip:]
		}
	}
	if plan.Limit > 0 && int64(len(matching)) > plan.Limit {
		matching = matching[:plan.Limit]
	}

	result := make([]rest.Document, 0, len(matching))
	for _, doc := range matching {
		result = append(result, projectDocument(doc, plan.Projection))
	}
	return result, totalCount, nil
}

// FindOne implements rest.Store
func (s *MemoryStore) FindOne(ctx context.Context, collection string, id string) (rest.Document, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return nil, rest.ErrDocumentNotFound
	}
	doc, ok := coll.docs[id]
	if !ok {
		return nil, rest.ErrDocumentNotFound
	}
	return copyDocument(doc), nil
}

// FindOneBy implements rest.Store
func (s *MemoryStore) FindOneBy(ctx context.Context, collection string, field string, value interface{}) (rest.Document, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return nil, rest.ErrDocumentNotFound
	}
	for _, id := range coll.order {
		doc := coll.docs[id]
		if compareValues(doc[field], value) == 0 {
			return copyDocument(doc), nil
		}
	}
	return nil, rest.ErrDocumentNotFound
}

// Insert implements rest.Store
func (s *MemoryStore) Insert(ctx context.Context, collection string, doc rest.Document) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("document without string identifier")
	}
	coll := s.collection(collection)
	if _, exists := coll.docs[id]; exists {
		return "", fmt.Errorf("duplicate identifier %q", id)
	}
	coll.docs[id] = copyDocument(doc)
	coll.order = append(coll.order, id)
	return id, nil
}

// Replace implements rest.Store
func (s *MemoryStore) Replace(ctx context.Context, collection string, id string, doc rest.Document) (rest.Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		return nil, rest.ErrDocumentNotFound
	}
	if _, exists := coll.docs[id]; !exists {
		return nil, rest.ErrDocumentNotFound
	}
	replacement := copyDocument(doc)
	replacement["_id"] = id
	coll.docs[id] = replacement
	return copyDocument(replacement), nil
}

// Delete implements rest.Store
func (s *MemoryStore) Delete(ctx context.Context, collection string, id string) (rest.Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		return nil, rest.ErrDocumentNotFound
	}
	doc, exists := coll.docs[id]
	if !exists {
		return nil, rest.ErrDocumentNotFound
	}
	delete(coll.docs, id)
	for i, existing := range coll.order {
		if existing == id {
			coll.order = append(coll.order[:i], coll.order[i+1:]...)
			break
		}
	}
	return doc, nil
}

func matchesAll(doc rest.Document, terms []rest.FilterTerm) (bool, error) {
	for _, term := range terms {
		matched, err := matches(doc, term)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func matches(doc rest.Document, term rest.FilterTerm) (bool, error) {
	value, exists := doc[term.Field]
	switch term.Operator {
	case rest.OperatorExists:
		want, _ := term.Value.(bool)
		return exists == want, nil
	case rest.OperatorExact:
		return exists && compareValues(value, term.Value) == 0, nil
	case rest.OperatorNe:
		return !exists || compareValues(value, term.Value) != 0, nil
	case rest.OperatorLt:
		return exists && sameDomain(value, term.Value) && compareValues(value, term.Value) < 0, nil
	case rest.OperatorLte:
		return exists && sameDomain(value, term.Value) && compareValues(value, term.Value) <= 0, nil
	case rest.OperatorGt:
		return exists && sameDomain(value, term.Value) && compareValues(value, term.Value) > 0, nil
	case rest.OperatorGte:
		return exists && sameDomain(value, term.Value) && compareValues(value, term.Value) >= 0, nil
	case rest.OperatorIn:
		list, ok := term.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("in filter without list value")
		}
		if !exists {
			return false, nil
		}
		for _, candidate := range list {
			if compareValues(value, candidate) == 0 {
				return true, nil
			}
		}
		return false, nil
	case rest.OperatorStartswith:
		s, sok := value.(string)
		prefix, pok := term.Value.(string)
		return exists && sok && pok && strings.HasPrefix(s, prefix), nil
	default:
		return false, fmt.Errorf("unknown filter operator %q", term.Operator)
	}
}

// sameDomain reports whether both values live in the same comparison domain,
// either both numeric or both strings.
func sameDomain(a, b interface{}) bool {
	_, aNum := toFloat(a)
	_, bNum := toFloat(b)
	if aNum && bNum {
		return true
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	return aStr && bStr
}

// compareValues orders two document values. Numbers compare numerically
// across integer and float representations, everything else by its string
// form.
func compareValues(a, b interface{}) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case float32:
		return float64(value), true
	case float64:
		return float64(value), true
	default:
		return 0, false
	}
}

func projectDocument(doc rest.Document, projection []string) rest.Document {
	if projection == nil {
		return copyDocument(doc)
	}
	projected := rest.Document{}
	for _, field := range projection {
		if value, ok := doc[field]; ok {
			projected[field] = value
		}
	}
	return projected
}

func copyDocument(doc rest.Document) rest.Document {
	out := make(rest.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

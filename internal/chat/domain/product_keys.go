package domain

import "encoding/json"

// ProductKeys is an ordered list of product keys with set-like membership.
// It serializes as a plain JSON array; decoding drops duplicates while
// keeping first-seen order, so legacy rows written as unordered sets or
// with repeats still load cleanly.
type ProductKeys []string

// Contains reports whether key is present.
func (k ProductKeys) Contains(key string) bool {
	for _, existing := range k {
		if existing == key {
			return true
		}
	}
	return false
}

// Add returns a new list with each key appended unless already present.
// The receiver is not modified.
func (k ProductKeys) Add(keys ...string) ProductKeys {
	out := k.Clone()
	for _, key := range keys {
		if !out.Contains(key) {
			out = append(out, key)
		}
	}
	return out
}

// Clone returns an independent copy.
func (k ProductKeys) Clone() ProductKeys {
	if k == nil {
		return ProductKeys{}
	}
	return append(ProductKeys{}, k...)
}

// MarshalJSON always emits an array, never null.
func (k ProductKeys) MarshalJSON() ([]byte, error) {
	if k == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(k))
}

// UnmarshalJSON accepts an array (deduplicated in order) or null.
func (k *ProductKeys) UnmarshalJSON(b []byte) error {
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*k = ProductKeys{}.Add(raw...)
	return nil
}

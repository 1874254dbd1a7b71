package story

import (
	"encoding/json"
	"sort"
)

// Known attribute keys
const (
	AttrAge       = "age"
	AttrGender    = "gender"
	AttrHairColor = "hairColor"
	AttrEyeColor  = "eyeColor"
	AttrSkinTone  = "skinTone"
	AttrHeight    = "height"
	AttrBuild     = "build"
)

// Attributes holds the visual attributes of a character. Known keys are typed
// fields; anything else lands in Extra. The JSON form is a flat object.
type Attributes struct {
	Age       string
	Gender    string
	HairColor string
	EyeColor  string
	SkinTone  string
	Height    string
	Build     string
	Extra     map[string]string
}

func (a *Attributes) fields() map[string]*string {
	return map[string]*string{
		AttrAge:       &a.Age,
		AttrGender:    &a.Gender,
		AttrHairColor: &a.HairColor,
		AttrEyeColor:  &a.EyeColor,
		AttrSkinTone:  &a.SkinTone,
		AttrHeight:    &a.Height,
		AttrBuild:     &a.Build,
	}
}

// Get returns the value stored under key
func (a Attributes) Get(key string) string {
	if f, ok := a.fields()[key]; ok {
		return *f
	}
	return a.Extra[key]
}

// Set stores value under key
func (a *Attributes) Set(key, value string) {
	if f, ok := a.fields()[key]; ok {
		*f = value
		return
	}
	if a.Extra == nil {
		a.Extra = make(map[string]string)
	}
	a.Extra[key] = value
}

// Keys returns the keys holding a non-empty value, sorted
func (a Attributes) Keys() []string {
	var keys []string
	for k, f := range a.fields() {
		if *f != "" {
			keys = append(keys, k)
		}
	}
	for k, v := range a.Extra {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy
func (a Attributes) Clone() Attributes {
	out := a
	if a.Extra != nil {
		out.Extra = make(map[string]string, len(a.Extra))
		for k, v := range a.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MarshalJSON implements json.Marshaler
func (a Attributes) MarshalJSON() ([]byte, error) {
	flat := make(map[string]string)
	for _, k := range a.Keys() {
		flat[k] = a.Get(k)
	}
	return json.Marshal(flat)
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	*a = Attributes{}
	for k, v := range flat {
		a.Set(k, v)
	}
	return nil
}

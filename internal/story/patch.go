package story

// CharacterPatch is a partial overlay on a Character. Nil fields are unchanged.
type CharacterPatch struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Traits      []string          `json:"traits,omitempty"`
	Attributes  *Attributes       `json:"attributes,omitempty"`
	Emotions    map[string]string `json:"emotions,omitempty"`
	ImageURL    *string           `json:"image_url,omitempty"`
}

// Merge returns p with every field set in other overriding it
func (p CharacterPatch) Merge(other CharacterPatch) CharacterPatch {
	out := p.clone()
	if other.Name != nil {
		out.Name = strPtr(*other.Name)
	}
	if other.Description != nil {
		out.Description = strPtr(*other.Description)
	}
	if other.Traits != nil {
		out.Traits = append([]string(nil), other.Traits...)
	}
	if other.Attributes != nil {
		attrs := other.Attributes.Clone()
		out.Attributes = &attrs
	}
	if other.Emotions != nil {
		out.Emotions = copyStrings(other.Emotions)
	}
	if other.ImageURL != nil {
		out.ImageURL = strPtr(*other.ImageURL)
	}
	return out
}

// Apply returns c with the patch laid over it
func (p CharacterPatch) Apply(c Character) Character {
	out := c
	out.Traits = append([]string(nil), c.Traits...)
	out.Attributes = c.Attributes.Clone()
	out.Emotions = copyStrings(c.Emotions)

	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Traits != nil {
		out.Traits = append([]string(nil), p.Traits...)
	}
	if p.Attributes != nil {
		out.Attributes = p.Attributes.Clone()
	}
	if p.Emotions != nil {
		out.Emotions = copyStrings(p.Emotions)
	}
	if p.ImageURL != nil {
		out.ImageURL = *p.ImageURL
	}
	return out
}

func (p CharacterPatch) clone() CharacterPatch {
	out := CharacterPatch{}
	if p.Name != nil {
		out.Name = strPtr(*p.Name)
	}
	if p.Description != nil {
		out.Description = strPtr(*p.Description)
	}
	if p.Traits != nil {
		out.Traits = append([]string(nil), p.Traits...)
	}
	if p.Attributes != nil {
		attrs := p.Attributes.Clone()
		out.Attributes = &attrs
	}
	if p.Emotions != nil {
		out.Emotions = copyStrings(p.Emotions)
	}
	if p.ImageURL != nil {
		out.ImageURL = strPtr(*p.ImageURL)
	}
	return out
}

func strPtr(s string) *string { return &s }

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

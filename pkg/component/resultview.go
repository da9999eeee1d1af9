package component

import (
	"encoding/json"
	"fmt"
)

// ViewKind identifies a display primitive in a result view tree.
type ViewKind string

const (
	ViewLabel        ViewKind = "label"
	ViewColoredLabel ViewKind = "colored_label"
	ViewKeyValue     ViewKind = "key_value"
	ViewSeparator    ViewKind = "separator"
	ViewHorizontal   ViewKind = "horizontal"
	ViewVertical     ViewKind = "vertical"
)

// ViewNode is one node in the declarative display tree a component may
// return from its result_view export. Components describe their results
// as data; the host decides how to render them.
type ViewNode struct {
	// Kind selects the display primitive.
	Kind ViewKind `json:"kind"`

	// Text is the label text for label and colored_label nodes.
	Text string `json:"text,omitempty"`

	// Color is an RGBA hex string (e.g. "#ff8800ff") for colored_label.
	Color string `json:"color,omitempty"`

	// Key and Value are the two halves of a key_value row.
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// Children are nested nodes for horizontal and vertical groups.
	Children []ViewNode `json:"children,omitempty"`
}

// validate rejects trees with unknown kinds or malformed groups.
func (v *ViewNode) validate() error {
	switch v.Kind {
	case ViewLabel:
		if v.Text == "" {
			return fmt.Errorf("label node has no text")
		}
	case ViewColoredLabel:
		if v.Text == "" {
			return fmt.Errorf("colored_label node has no text")
		}
	case ViewKeyValue:
		if v.Key == "" {
			return fmt.Errorf("key_value node has no key")
		}
	case ViewSeparator:
		// no payload
	case ViewHorizontal, ViewVertical:
		for i := range v.Children {
			if err := v.Children[i].validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown view kind %q", v.Kind)
	}
	return nil
}

// parseResultView decodes and validates the JSON payload returned by a
// component's result_view export.
func parseResultView(payload []byte) (*ViewNode, error) {
	var root ViewNode
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result view: %w", err)
	}
	if err := root.validate(); err != nil {
		return nil, fmt.Errorf("invalid result view: %w", err)
	}
	return &root, nil
}

package replica

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

type Shape struct {
	ID       string  `json:"id"`
	Kind     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation,omitempty"`
	Fill     string  `json:"fill,omitempty"`
	Text     string  `json:"text,omitempty"`
}

// ShapePatch carries the fields to change; nil fields are left as they are.
type ShapePatch struct {
	Kind     *string
	X        *float64
	Y        *float64
	Width    *float64
	Height   *float64
	Rotation *float64
	Fill     *string
	Text     *string
}

func (p ShapePatch) applyTo(s Shape) Shape {
	if p.Kind != nil {
		s.Kind = *p.Kind
	}
	if p.X != nil {
		s.X = *p.X
	}
	if p.Y != nil {
		s.Y = *p.Y
	}
	if p.Width != nil {
		s.Width = *p.Width
	}
	if p.Height != nil {
		s.Height = *p.Height
	}
	if p.Rotation != nil {
		s.Rotation = *p.Rotation
	}
	if p.Fill != nil {
		s.Fill = *p.Fill
	}
	if p.Text != nil {
		s.Text = *p.Text
	}
	return s
}

func (s Shape) toMap() map[string]interface{} {
	return map[string]interface{}{
		"id":       s.ID,
		"type":     s.Kind,
		"x":        s.X,
		"y":        s.Y,
		"width":    s.Width,
		"height":   s.Height,
		"rotation": s.Rotation,
		"fill":     s.Fill,
		"text":     s.Text,
	}
}

func shapeFromValue(v *automerge.Value) (Shape, error) {
	if v.Kind() != automerge.KindMap {
		return Shape{}, fmt.Errorf("expected map, got kind %v", v.Kind())
	}
	m := v.Map()
	var s Shape
	var err error
	if s.ID, err = str(m, "id"); err != nil {
		return s, err
	}
	if s.Kind, err = str(m, "type"); err != nil {
		return s, err
	}
	if s.Fill, err = str(m, "fill"); err != nil {
		return s, err
	}
	if s.Text, err = str(m, "text"); err != nil {
		return s, err
	}
	for key, dst := range map[string]*float64{
		"x":        &s.X,
		"y":        &s.Y,
		"width":    &s.Width,
		"height":   &s.Height,
		"rotation": &s.Rotation,
	} {
		if *dst, err = num(m, key); err != nil {
			return s, err
		}
	}
	return s, nil
}

func str(m *automerge.Map, key string) (string, error) {
	v, err := m.Get(key)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	if v.Kind() != automerge.KindStr {
		return "", nil
	}
	return v.Str(), nil
}

// num accepts any numeric kind; peers written in other languages may store whole
// numbers as integers.
func num(m *automerge.Map, key string) (float64, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	switch v.Kind() {
	case automerge.KindFloat64:
		return v.Float64(), nil
	case automerge.KindInt64:
		return float64(v.Int64()), nil
	case automerge.KindUint64:
		return float64(v.Uint64()), nil
	default:
		return 0, nil
	}
}

package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Cell is a numeric report field that renders as an empty string when the
// line was not sampled.
type Cell struct {
	Value float64
	Valid bool
}

// Number returns a populated Cell.
func Number(v float64) Cell {
	return Cell{Value: v, Valid: true}
}

func (c Cell) String() string {
	if !c.Valid {
		return ""
	}
	return strconv.FormatFloat(c.Value, 'f', -1, 64)
}

// MarshalJSON renders the value as a JSON number, or "" when unset.
func (c Cell) MarshalJSON() ([]byte, error) {
	if !c.Valid {
		return []byte(`""`), nil
	}
	if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
		return nil, fmt.Errorf("cell value %v is not representable", c.Value)
	}
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts a number, a numeric string, "" or null.
func (c *Cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = Cell{}
		return nil
	}
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		if text == "" {
			*c = Cell{}
			return nil
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("parse cell %q: %w", text, err)
	}
	*c = Number(v)
	return nil
}

// MarshalYAML renders integral values as YAML integers.
func (c Cell) MarshalYAML() (interface{}, error) {
	if !c.Valid {
		return "", nil
	}
	if c.Value == math.Trunc(c.Value) && math.Abs(c.Value) < 1<<53 {
		return int64(c.Value), nil
	}
	return c.Value, nil
}

// UnmarshalYAML accepts a scalar number or an empty string.
func (c *Cell) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected scalar cell", node.Line)
	}
	if node.Tag == "!!null" || (node.Tag == "!!str" && node.Value == "") {
		*c = Cell{}
		return nil
	}
	v, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return fmt.Errorf("line %d: parse cell %q: %w", node.Line, node.Value, err)
	}
	*c = Number(v)
	return nil
}

package labels

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ErrUnknownDataset is returned by Load for a selector with no built-in table.
var ErrUnknownDataset = errors.New("unknown dataset")

// UnknownClassError reports a class id the table has no label for.
// This is a configuration error, not a per-frame data problem.
type UnknownClassError struct {
	Dataset string
	ClassID int
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("class id %d not present in %q label map", e.ClassID, e.Dataset)
}

// Table maps class ids to labels and labels to drawing colours.
// It is immutable after construction and safe for concurrent use.
type Table struct {
	dataset string
	labels  map[int]string
	colors  map[string]color.RGBA
	ids     []int
}

// Datasets returns the built-in dataset selectors in sorted order.
func Datasets() []string {
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns the built-in table for a dataset selector (case-insensitive).
func Load(dataset string) (*Table, error) {
	key := strings.ToLower(strings.TrimSpace(dataset))
	if fileOnly[key] {
		return nil, fmt.Errorf("%w: %q", ErrLabelMapRequired, key)
	}
	m, ok := datasets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownDataset, dataset, strings.Join(Datasets(), ", "))
	}
	return New(key, m)
}

// New builds a table from an explicit id → label map.
func New(dataset string, m map[int]string) (*Table, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("label map %q is empty", dataset)
	}

	t := &Table{
		dataset: dataset,
		labels:  make(map[int]string, len(m)),
		colors:  make(map[string]color.RGBA, len(m)),
		ids:     make([]int, 0, len(m)),
	}
	for id, label := range m {
		if label == "" {
			return nil, fmt.Errorf("label map %q: empty label for class id %d", dataset, id)
		}
		t.labels[id] = label
		t.ids = append(t.ids, id)
	}
	sort.Ints(t.ids)

	// Colours are assigned in id order so a dataset always renders the same.
	for i, id := range t.ids {
		label := t.labels[id]
		if _, ok := t.colors[label]; ok {
			continue
		}
		t.colors[label] = paletteColor(i)
	}
	return t, nil
}

// goldenAngle spreads consecutive hues as far apart as possible.
const goldenAngle = 137.507764

func paletteColor(i int) color.RGBA {
	hue := math.Mod(float64(i)*goldenAngle, 360)
	r, g, b := colorful.Hsv(hue, 0.85, 0.95).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Dataset returns the selector the table was built from.
func (t *Table) Dataset() string { return t.dataset }

// Len returns the number of classes.
func (t *Table) Len() int { return len(t.ids) }

// IDs returns the class ids in ascending order.
func (t *Table) IDs() []int {
	out := make([]int, len(t.ids))
	copy(out, t.ids)
	return out
}

// Label resolves a class id.
func (t *Table) Label(id int) (string, error) {
	label, ok := t.labels[id]
	if !ok {
		return "", &UnknownClassError{Dataset: t.dataset, ClassID: id}
	}
	return label, nil
}

// Color returns the drawing colour for a label. Labels outside the table
// get white so a renderer never has to fail.
func (t *Table) Color(label string) color.RGBA {
	if c, ok := t.colors[label]; ok {
		return c
	}
	return color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
}

// Covers checks that every id in ids has a label.
func (t *Table) Covers(ids []int) error {
	for _, id := range ids {
		if _, ok := t.labels[id]; !ok {
			return &UnknownClassError{Dataset: t.dataset, ClassID: id}
		}
	}
	return nil
}

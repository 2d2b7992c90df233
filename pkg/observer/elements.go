package observer

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// maxTextLen truncates element text and descriptions before they reach the
// model prompt.
const maxTextLen = 200

// Element is one actionable UI node from a single observation. UIDs are
// 1-based, assigned in tree-traversal order, and only valid for the
// observation that produced them.
type Element struct {
	UID        int
	Class      string
	Text       string
	Desc       string
	ResourceID string
	Bounds     Rect
	Center     Point
	Clickable  bool
	Password   bool
	Checkable  bool
	Checked    bool
	Selected   bool
}

// Rect is a bounding rectangle in device pixel space.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Point is a pixel coordinate.
type Point struct {
	X, Y int
}

// FindElement resolves a UID against an element list.
func FindElement(uid int, elements []Element) (Element, bool) {
	for _, el := range elements {
		if el.UID == uid {
			return el, true
		}
	}
	return Element{}, false
}

// uiNode mirrors one <node> of a uiautomator dump.
type uiNode struct {
	Class         string   `xml:"class,attr"`
	Text          string   `xml:"text,attr"`
	ContentDesc   string   `xml:"content-desc,attr"`
	ResourceID    string   `xml:"resource-id,attr"`
	Bounds        string   `xml:"bounds,attr"`
	Clickable     string   `xml:"clickable,attr"`
	LongClickable string   `xml:"long-clickable,attr"`
	Focusable     string   `xml:"focusable,attr"`
	Enabled       string   `xml:"enabled,attr"`
	Displayed     string   `xml:"displayed,attr"`
	Password      string   `xml:"password,attr"`
	Checkable     string   `xml:"checkable,attr"`
	Checked       string   `xml:"checked,attr"`
	Selected      string   `xml:"selected,attr"`
	Children      []uiNode `xml:"node"`
}

// uiHierarchy is the dump's document root.
type uiHierarchy struct {
	Children []uiNode `xml:"node"`
}

var boundsDigits = regexp.MustCompile(`\d+`)

// parseBounds reads "[x1,y1][x2,y2]". Malformed input yields the zero Rect,
// which fails the viewport test.
func parseBounds(s string) Rect {
	nums := boundsDigits.FindAllString(s, -1)
	if len(nums) != 4 {
		return Rect{}
	}
	vals := make([]int, 4)
	for i, n := range nums {
		v, err := strconv.Atoi(n)
		if err != nil {
			return Rect{}
		}
		vals[i] = v
	}
	return Rect{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]}
}

// inViewport reports whether the rect intersects the screen at all; partial
// overlap counts as visible.
func inViewport(r Rect, width, height int) bool {
	if r == (Rect{}) {
		return false
	}
	return r.Y1 < height && r.Y2 > 0 && r.X1 < width && r.X2 > 0
}

// actionable applies the element filter: enabled, not explicitly hidden, and
// either interactive or carrying text/description.
func actionable(n uiNode) bool {
	if n.Displayed == "false" || n.Enabled != "true" {
		return false
	}
	interactive := n.Clickable == "true" || n.LongClickable == "true" || n.Focusable == "true"
	hasText := n.Text != "" || n.ContentDesc != ""
	return interactive || hasText
}

func truncate(s string) string {
	// Counted in runes, not bytes: CJK text would otherwise be cut far
	// early and split mid-rune into invalid UTF-8.
	r := []rune(s)
	if len(r) > maxTextLen {
		return string(r[:maxTextLen]) + "..."
	}
	return s
}

// ReduceTree parses a uiautomator dump and returns the bounded, viewport
// filtered element list with sequential UIDs.
func ReduceTree(xmlContent string, width, height int) ([]Element, error) {
	if xmlContent == "" {
		return nil, nil
	}
	var root uiHierarchy
	if err := xml.Unmarshal([]byte(xmlContent), &root); err != nil {
		return nil, fmt.Errorf("parse ui tree: %w", err)
	}

	var elements []Element
	uid := 1
	var walk func(n uiNode)
	walk = func(n uiNode) {
		bounds := parseBounds(n.Bounds)
		if inViewport(bounds, width, height) && actionable(n) {
			elements = append(elements, Element{
				UID:        uid,
				Class:      n.Class,
				Text:       truncate(n.Text),
				Desc:       truncate(n.ContentDesc),
				ResourceID: n.ResourceID,
				Bounds:     bounds,
				Center: Point{
					X: (bounds.X1 + bounds.X2) / 2,
					Y: (bounds.Y1 + bounds.Y2) / 2,
				},
				Clickable: n.Clickable == "true",
				Password:  n.Password == "true",
				Checkable: n.Checkable == "true",
				Checked:   n.Checked == "true",
				Selected:  n.Selected == "true",
			})
			uid++
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	for _, child := range root.Children {
		walk(child)
	}
	return elements, nil
}

// Summarize renders one line per element for the model prompt, fields in a
// fixed order so prompts are deterministic.
func Summarize(elements []Element) string {
	var b strings.Builder
	for _, el := range elements {
		var parts []string
		if el.Text != "" {
			parts = append(parts, fmt.Sprintf("text='%s'", el.Text))
		}
		if el.Desc != "" {
			parts = append(parts, fmt.Sprintf("desc='%s'", el.Desc))
		}
		if el.ResourceID != "" {
			parts = append(parts, fmt.Sprintf("id='%s'", el.ResourceID))
		}
		if el.Password {
			parts = append(parts, "is_password")
		}
		if el.Checkable {
			parts = append(parts, "checkable")
			if el.Checked {
				parts = append(parts, "checked")
			} else {
				parts = append(parts, "unchecked")
			}
		}
		if el.Selected {
			parts = append(parts, "selected")
		}
		if el.Clickable {
			parts = append(parts, "clickable")
		}
		parts = append(parts, fmt.Sprintf("bounds=[%d,%d][%d,%d]",
			el.Bounds.X1, el.Bounds.Y1, el.Bounds.X2, el.Bounds.Y2))

		class := el.Class
		if idx := strings.LastIndex(class, "."); idx >= 0 {
			class = class[idx+1:]
		}
		fmt.Fprintf(&b, "[%d] %s {%s}\n", el.UID, class, strings.Join(parts, ", "))
	}
	return b.String()
}

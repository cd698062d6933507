// codec.go serializes a FieldDiff to the tagged-section payload stored in
// ChangeRecord.Data and parses it back. The document is deliberately simple:
//
//	<changes>
//	  <old><Total>100</Total></old>
//	  <new><Total>150</Total></new>
//	</changes>
//
// Both sections list the same fields in the same order, one element per field
// named after it, values text-escaped. The round trip is structural only:
// field names and value text are recovered, types are not.
package diff

import (
	"fmt"

	"github.com/beevik/etree"
)

const (
	rootTag = "changes"
	oldTag  = "old"
	newTag  = "new"
)

// Encode renders the diff as a payload string. The empty diff encodes to "",
// the sentinel for "nothing to log".
func (d *FieldDiff) Encode() string {
	if d.Empty() {
		return ""
	}

	doc := etree.NewDocument()
	root := doc.CreateElement(rootTag)
	oldSection := root.CreateElement(oldTag)
	newSection := root.CreateElement(newTag)

	for _, c := range d.changes {
		oldSection.CreateElement(c.Name).SetText(c.Old)
		newSection.CreateElement(c.Name).SetText(c.New)
	}

	out, err := doc.WriteToString()
	if err != nil {
		// etree only fails on writer errors; a string writer has none.
		return ""
	}
	return out
}

// Decode parses a payload produced by Encode. Field order follows the "old"
// section; a field appearing in only one section gets an empty value for the
// missing side.
func Decode(payload string) (*FieldDiff, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(payload); err != nil {
		return nil, fmt.Errorf("parse change payload: %w", err)
	}

	root := doc.SelectElement(rootTag)
	if root == nil {
		return nil, fmt.Errorf("parse change payload: missing <%s> element", rootTag)
	}

	newValues := make(map[string]string)
	if section := root.SelectElement(newTag); section != nil {
		for _, el := range section.ChildElements() {
			newValues[el.Tag] = el.Text()
		}
	}

	d := New()
	if section := root.SelectElement(oldTag); section != nil {
		for _, el := range section.ChildElements() {
			d.Add(el.Tag, el.Text(), newValues[el.Tag])
			delete(newValues, el.Tag)
		}
	}
	if section := root.SelectElement(newTag); section != nil {
		for _, el := range section.ChildElements() {
			if _, ok := d.Get(el.Tag); !ok {
				d.Add(el.Tag, "", el.Text())
			}
		}
	}
	return d, nil
}

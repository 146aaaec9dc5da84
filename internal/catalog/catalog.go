// Package catalog merges SC2 catalog XML documents node by node.
package catalog

import (
	"bytes"
	"encoding/xml"
	"sort"
	"strings"
)

// Node is a generic catalog XML element.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*Node    `xml:",any"`
}

// Parse decodes one XML document.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	root := &Node{}
	if err := dec.Decode(root); err != nil {
		return nil, err
	}
	normalize(root)
	return root, nil
}

// Render writes the document back with an XML declaration.
func Render(n *Node) ([]byte, error) {
	body, err := xml.MarshalIndent(n, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func normalize(n *Node) {
	n.Text = strings.TrimSpace(n.Text)
	for _, c := range n.Children {
		normalize(c)
	}
}

// Merge overlays document b onto document a and returns a new document.
// Top level entries pair by their id attribute and merge recursively; b
// entries without a matching id append. The root tag and attributes stay
// a's.
func Merge(a, b *Node) *Node {
	merged := &Node{XMLName: a.XMLName, Attrs: append([]xml.Attr(nil), a.Attrs...), Text: a.Text}
	byID := map[string]*Node{}
	for _, c := range a.Children {
		cc := clone(c)
		if v, ok := attrValue(cc, "id"); ok {
			byID[v] = cc
		}
		merged.Children = append(merged.Children, cc)
	}
	for _, cb := range b.Children {
		if v, ok := attrValue(cb, "id"); ok {
			if target, found := byID[v]; found {
				mergeNodes(target, cb)
				continue
			}
		}
		merged.Children = append(merged.Children, clone(cb))
	}
	return merged
}

type nodeKey struct {
	kind string
	tag  string
	val  string
}

// identityKey resolves how a child pairs with a counterpart in the other
// document: id beats index beats value beats the full attribute set.
// Attribute-less nodes have no identity and only dedupe by signature.
func identityKey(n *Node) nodeKey {
	for _, name := range []string{"id", "index", "value"} {
		if v, ok := attrValue(n, name); ok {
			return nodeKey{kind: name, tag: n.XMLName.Local, val: v}
		}
	}
	if len(n.Attrs) > 0 {
		return nodeKey{kind: "attrs", tag: n.XMLName.Local, val: attrString(n)}
	}
	return nodeKey{kind: "unique"}
}

func mergeNodes(target, source *Node) {
	for _, a := range source.Attrs {
		setAttr(target, a)
	}

	keyMap := map[nodeKey][]*Node{}
	for _, c := range target.Children {
		k := identityKey(c)
		keyMap[k] = append(keyMap[k], c)
	}
	uniqueKey := nodeKey{kind: "unique"}
	for _, child := range source.Children {
		k := identityKey(child)
		if k.kind != "unique" {
			if targets := keyMap[k]; len(targets) > 0 {
				mergeNodes(targets[0], child)
				continue
			}
			cc := clone(child)
			target.Children = append(target.Children, cc)
			keyMap[k] = append(keyMap[k], cc)
			continue
		}
		sig := signature(child)
		dup := false
		for _, existing := range keyMap[uniqueKey] {
			if existing.XMLName.Local == child.XMLName.Local && signature(existing) == sig {
				dup = true
				break
			}
		}
		if !dup {
			cc := clone(child)
			target.Children = append(target.Children, cc)
			keyMap[uniqueKey] = append(keyMap[uniqueKey], cc)
		}
	}
}

// signature fingerprints a node structurally: tag, attributes, text, and
// the multiset of child signatures.
func signature(n *Node) string {
	var b strings.Builder
	b.WriteString(n.XMLName.Local)
	b.WriteByte('|')
	b.WriteString(attrString(n))
	b.WriteByte('|')
	b.WriteString(n.Text)
	b.WriteByte('|')
	sigs := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		sigs = append(sigs, signature(c))
	}
	sort.Strings(sigs)
	for _, s := range sigs {
		b.WriteString(s)
		b.WriteByte(';')
	}
	return b.String()
}

func clone(n *Node) *Node {
	c := &Node{XMLName: n.XMLName, Attrs: append([]xml.Attr(nil), n.Attrs...), Text: n.Text}
	for _, ch := range n.Children {
		c.Children = append(c.Children, clone(ch))
	}
	return c
}

func attrValue(n *Node, name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func setAttr(n *Node, attr xml.Attr) {
	for i, a := range n.Attrs {
		if a.Name.Local == attr.Name.Local && a.Name.Space == attr.Name.Space {
			n.Attrs[i].Value = attr.Value
			return
		}
	}
	n.Attrs = append(n.Attrs, attr)
}

func attrString(n *Node) string {
	pairs := make([]string, 0, len(n.Attrs))
	for _, a := range n.Attrs {
		pairs = append(pairs, a.Name.Local+"="+a.Value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

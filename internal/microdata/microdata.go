// Package microdata extracts HTML microdata items (itemscope/itemprop) from
// markup into a properties bag.
package microdata

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Value is either a string value or a nested item.
type Value struct {
	Text string `json:"text,omitempty"`
	Item *Item  `json:"item,omitempty"`
}

type Item struct {
	Types      []string           `json:"type,omitempty"`
	ID         string             `json:"id,omitempty"`
	Properties map[string][]Value `json:"properties"`
}

type Result struct {
	Items []*Item `json:"items"`
}

// First returns the first string value of a property.
func (i *Item) First(name string) (string, bool) {
	for _, v := range i.Properties[name] {
		if v.Item == nil {
			return v.Text, true
		}
	}
	return "", false
}

// FirstItem returns the first nested item value of a property.
func (i *Item) FirstItem(name string) (*Item, bool) {
	for _, v := range i.Properties[name] {
		if v.Item != nil {
			return v.Item, true
		}
	}
	return nil, false
}

// Parse reads html and returns every top-level item in document order.
func Parse(html string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return FromSelection(doc.Selection), nil
}

// FromSelection extracts the top-level items found in sel and its descendants.
func FromSelection(sel *goquery.Selection) *Result {
	res := &Result{Items: []*Item{}}

	// Include the selection roots themselves, then descendants.
	scopes := sel.Filter("[itemscope]").AddSelection(sel.Find("[itemscope]"))
	scopes.Each(func(_ int, s *goquery.Selection) {
		if _, hasProp := s.Attr("itemprop"); hasProp {
			return
		}
		res.Items = append(res.Items, parseItem(s))
	})

	return res
}

func parseItem(scope *goquery.Selection) *Item {
	item := &Item{Properties: map[string][]Value{}}
	if t, ok := scope.Attr("itemtype"); ok {
		item.Types = strings.Fields(t)
	}
	if id, ok := scope.Attr("itemid"); ok {
		item.ID = strings.TrimSpace(id)
	}

	collect(scope.Children(), item)
	return item
}

// collect walks the subtree without crossing into nested scopes.
func collect(nodes *goquery.Selection, item *Item) {
	nodes.Each(func(_ int, s *goquery.Selection) {
		_, scoped := s.Attr("itemscope")
		names, hasProp := s.Attr("itemprop")

		if hasProp {
			var v Value
			if scoped {
				v.Item = parseItem(s)
			} else {
				v.Text = propertyValue(s)
			}
			for _, name := range strings.Fields(names) {
				item.Properties[name] = append(item.Properties[name], v)
			}
		}

		if !scoped {
			collect(s.Children(), item)
		}
	})
}

func propertyValue(s *goquery.Selection) string {
	attr := ""
	switch goquery.NodeName(s) {
	case "meta":
		attr = "content"
	case "audio", "embed", "iframe", "img", "source", "track", "video":
		attr = "src"
	case "a", "area", "link":
		attr = "href"
	case "object":
		attr = "data"
	case "data", "meter":
		attr = "value"
	case "time":
		if v, ok := s.Attr("datetime"); ok {
			return strings.TrimSpace(v)
		}
	}

	if attr != "" {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Text())
}

package spatial

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/twpayne/go-geom"
)

// boundsTolerance pads every indexed rectangle. rtreego treats touching
// rectangles as disjoint, which would drop a point lying on a bbox edge.
const boundsTolerance = 1e-6

// Index is an R-tree over geometry bounding boxes that answers candidate
// queries by input position.
type Index struct {
	tree *rtreego.Rtree
	size int
}

type indexEntry struct {
	rect rtreego.Rect
	pos  int
}

func (e *indexEntry) Bounds() rtreego.Rect { return e.rect }

// NewIndex builds an index over the given bounds; position i refers to bounds[i].
// Nil or empty bounds are skipped.
func NewIndex(bounds []*geom.Bounds) *Index {
	objs := make([]rtreego.Spatial, 0, len(bounds))
	for i, b := range bounds {
		rect, ok := toRect(b, boundsTolerance)
		if !ok {
			continue
		}
		objs = append(objs, &indexEntry{rect: rect, pos: i})
	}
	return &Index{tree: rtreego.NewTree(2, 25, 50, objs...), size: len(objs)}
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return ix.size }

// Search returns the positions whose boxes intersect b, in ascending order.
func (ix *Index) Search(b *geom.Bounds) []int {
	rect, ok := toRect(b, 0)
	if !ok {
		return nil
	}
	hits := ix.tree.SearchIntersect(rect)
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*indexEntry).pos)
	}
	sort.Ints(out)
	return out
}

// SearchPoint returns the positions whose boxes contain c, in ascending order.
func (ix *Index) SearchPoint(c geom.Coord) []int {
	b := geom.NewBounds(geom.XY).Set(c[0], c[1], c[0], c[1])
	return ix.Search(b)
}

func toRect(b *geom.Bounds, pad float64) (rtreego.Rect, bool) {
	if b == nil || b.IsEmpty() {
		return rtreego.Rect{}, false
	}
	lo := rtreego.Point{b.Min(0) - pad, b.Min(1) - pad}
	hi := rtreego.Point{b.Max(0) + pad, b.Max(1) + pad}
	rect, err := rtreego.NewRectFromPoints(lo, hi)
	if err != nil {
		return rtreego.Rect{}, false
	}
	return rect, true
}

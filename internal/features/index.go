package features

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// descPoint is a descriptor stored in the kd-tree together with the index
// of the keypoint it came from.
type descPoint struct {
	vec []float64
	idx int
}

func (p descPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.vec[d] - c.(descPoint).vec[d]
}

func (p descPoint) Dims() int { return len(p.vec) }

// Distance is the squared Euclidean distance.
func (p descPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(descPoint)
	var sum float64
	for i, v := range p.vec {
		d := v - q.vec[i]
		sum += d * d
	}
	return sum
}

type descPoints []descPoint

func (p descPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p descPoints) Len() int                              { return len(p) }
func (p descPoints) Pivot(d kdtree.Dim) int                { return descPlane{Dim: d, descPoints: p}.Pivot() }
func (p descPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type descPlane struct {
	kdtree.Dim
	descPoints
}

func (p descPlane) Less(i, j int) bool {
	return p.descPoints[i].vec[p.Dim] < p.descPoints[j].vec[p.Dim]
}
func (p descPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p descPlane) Slice(start, end int) kdtree.SortSlicer {
	p.descPoints = p.descPoints[start:end]
	return p
}
func (p descPlane) Swap(i, j int) {
	p.descPoints[i], p.descPoints[j] = p.descPoints[j], p.descPoints[i]
}

// Neighbor is a query result: the keypoint index and its squared distance.
type Neighbor struct {
	Index  int
	DistSq float64
}

// Index answers nearest-neighbour queries over a fixed descriptor set.
type Index struct {
	tree *kdtree.Tree
	size int
}

// NewIndex builds a kd-tree over the descriptors of kps.
func NewIndex(kps []Keypoint) *Index {
	pts := make(descPoints, 0, len(kps))
	for i, kp := range kps {
		if len(kp.Descriptor) == 0 {
			continue
		}
		pts = append(pts, descPoint{vec: kp.Descriptor, idx: i})
	}
	if len(pts) == 0 {
		return &Index{}
	}
	return &Index{tree: kdtree.New(pts, false), size: len(pts)}
}

// Len returns the number of indexed descriptors.
func (ix *Index) Len() int { return ix.size }

// Nearest returns up to k neighbours of desc ordered by increasing distance.
func (ix *Index) Nearest(desc []float64, k int) []Neighbor {
	if ix.tree == nil || k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keep, descPoint{vec: desc, idx: -1})

	out := make([]Neighbor, 0, k)
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{Index: cd.Comparable.(descPoint).idx, DistSq: cd.Dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistSq != out[j].DistSq {
			return out[i].DistSq < out[j].DistSq
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// PassesRatio applies the nearest-neighbour ratio test on squared distances.
// The comparison is strict, so equal distances never pass.
func PassesRatio(d0, d1, ratio float64) bool {
	return d0 < ratio*d1
}

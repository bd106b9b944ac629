// Package clustering groups feature vectors into dense clusters with
// HDBSCAN* and excess-of-mass cluster selection.
//
// The pipeline is:
//
//	standardize -> pairwise distances -> core distances -> mutual reachability
//	-> minimum spanning tree -> single-linkage hierarchy -> condensed tree
//	-> stability -> excess-of-mass selection -> labels
//
// Everything is deterministic for a given input order: ties are broken by
// point index and results are sorted before they are returned.
package clustering

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/steveyegge/rdscout/internal/types"
)

// Params controls cluster extraction
type Params struct {
	// MinClusterSize is the smallest group of points reported as a cluster
	MinClusterSize int `yaml:"min_cluster_size" json:"min_cluster_size"`

	// MinSamples sets the neighbourhood used for core distances.
	// Zero means "same as MinClusterSize".
	MinSamples int `yaml:"min_samples" json:"min_samples"`

	// AllowSingleCluster lets the whole corpus be returned as one cluster
	// when it forms a single dense group.
	AllowSingleCluster bool `yaml:"allow_single_cluster" json:"allow_single_cluster"`

	// OutlierThreshold applies when the whole corpus is selected as one
	// cluster: points whose outlier score (1 - lambda/maxLambda) exceeds it
	// are noise. Zero means DefaultOutlierThreshold.
	OutlierThreshold float64 `yaml:"outlier_threshold" json:"outlier_threshold"`
}

// DefaultOutlierThreshold is the outlier score above which a point of a
// single whole-corpus cluster is treated as noise
const DefaultOutlierThreshold = 0.9

// DefaultParams returns the default clustering parameters
func DefaultParams() Params {
	return Params{
		MinClusterSize:     3,
		MinSamples:         0,
		AllowSingleCluster: true,
		OutlierThreshold:   DefaultOutlierThreshold,
	}
}

// Validate checks if the parameters have valid values
func (p Params) Validate() error {
	if p.MinClusterSize < 2 {
		return fmt.Errorf("min_cluster_size must be at least 2 (got %d)", p.MinClusterSize)
	}
	if p.MinClusterSize > 10000 {
		return fmt.Errorf("min_cluster_size too large (got %d, max 10000)", p.MinClusterSize)
	}
	if p.MinSamples < 0 {
		return fmt.Errorf("min_samples cannot be negative (got %d)", p.MinSamples)
	}
	if p.MinSamples > 10000 {
		return fmt.Errorf("min_samples too large (got %d, max 10000)", p.MinSamples)
	}
	if p.OutlierThreshold < 0 || p.OutlierThreshold > 1 {
		return fmt.Errorf("outlier_threshold must be between 0.0 and 1.0 (got %.2f)", p.OutlierThreshold)
	}
	return nil
}

// EffectiveMinSamples returns MinSamples, defaulting to MinClusterSize
func (p Params) EffectiveMinSamples() int {
	if p.MinSamples > 0 {
		return p.MinSamples
	}
	return p.MinClusterSize
}

// EffectiveOutlierThreshold returns OutlierThreshold, defaulting to
// DefaultOutlierThreshold
func (p Params) EffectiveOutlierThreshold() float64 {
	if p.OutlierThreshold > 0 {
		return p.OutlierThreshold
	}
	return DefaultOutlierThreshold
}

// Result is the outcome of one clustering call. Indices refer to the input
// slice. Every input index appears exactly once, in a cluster or in Noise.
type Result struct {
	Clusters [][]int
	Noise    []int
}

// Labels returns a per-point cluster index, -1 for noise
func (r *Result) Labels(n int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	for c, members := range r.Clusters {
		for _, p := range members {
			labels[p] = c
		}
	}
	return labels
}

// Cluster standardizes the vectors and runs HDBSCAN* over them.
//
// Fewer points than MinClusterSize yields an all-noise result. Ragged input,
// zero-width vectors and non-finite values are rejected with a clustering
// error.
func Cluster(vectors [][]float64, params Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, types.NewError(types.KindInvalidConfig, "cluster", err)
	}
	if err := validateInput(vectors); err != nil {
		return nil, types.NewError(types.KindClustering, "cluster", err)
	}

	n := len(vectors)
	m := params.MinClusterSize
	if n < m {
		return allNoise(n), nil
	}

	points := Standardize(vectors)
	dist := pairwiseDistances(points)
	core := coreDistances(dist, params.EffectiveMinSamples())
	mst := primMST(dist, core)
	h := singleLinkage(n, mst)
	tree := condense(h, m)
	selected := tree.selectClusters(params.AllowSingleCluster)
	labels := tree.labelPoints(selected, params.EffectiveOutlierThreshold())

	return buildResult(labels, m), nil
}

func validateInput(vectors [][]float64) error {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("vectors have zero dimensions")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), dim)
		}
		for j, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("vector %d has non-finite value at dimension %d", i, j)
			}
		}
	}
	return nil
}

func allNoise(n int) *Result {
	noise := make([]int, n)
	for i := range noise {
		noise[i] = i
	}
	return &Result{Clusters: [][]int{}, Noise: noise}
}

// Standardize rescales each dimension to zero mean and unit variance.
// Dimensions with zero variance become all zeros. The input is not modified.
func Standardize(vectors [][]float64) [][]float64 {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	dim := len(vectors[0])

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, dim)
	}
	column := make([]float64, n)
	for j := 0; j < dim; j++ {
		for i, v := range vectors {
			column[i] = v[j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if std <= 1e-12 {
			continue
		}
		for i := range out {
			out[i][j] = (column[i] - mean) / std
		}
	}
	return out
}

func pairwiseDistances(points [][]float64) [][]float64 {
	n := len(points)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(points[i], points[j], 2)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// coreDistances returns, per point, the distance to its k-th nearest
// neighbour counting the point itself.
func coreDistances(dist [][]float64, minSamples int) []float64 {
	n := len(dist)
	k := minSamples - 1
	if k > n-1 {
		k = n - 1
	}
	if k < 0 {
		k = 0
	}

	core := make([]float64, n)
	row := make([]float64, n)
	for i := range dist {
		copy(row, dist[i])
		sort.Float64s(row)
		core[i] = row[k]
	}
	return core
}

type mstEdge struct {
	a, b   int
	weight float64
}

// primMST builds the minimum spanning tree of the mutual-reachability graph
// starting from point 0. Ties go to the lowest index.
func primMST(dist [][]float64, core []float64) []mstEdge {
	n := len(core)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			w := math.Max(dist[current][j], math.Max(core[current], core[j]))
			if w < best[j] {
				best[j] = w
				from[j] = current
			}
			if next == -1 || best[j] < best[next] {
				next = j
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, weight: best[next]})
		current = next
	}
	return edges
}

// hierarchy is the single-linkage dendrogram. Leaves are 0..n-1; merge k
// creates node n+k.
type hierarchy struct {
	n     int
	left  []int
	right []int
	dist  []float64
	size  []int
}

func (h *hierarchy) sizeOf(node int) int {
	if node < h.n {
		return 1
	}
	return h.size[node-h.n]
}

func singleLinkage(n int, edges []mstEdge) *hierarchy {
	sorted := make([]mstEdge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool {
		ei, ej := sorted[i], sorted[j]
		if ei.weight != ej.weight {
			return ei.weight < ej.weight
		}
		li, hi := minMax(ei.a, ei.b)
		lj, hj := minMax(ej.a, ej.b)
		if li != lj {
			return li < lj
		}
		return hi < hj
	})

	h := &hierarchy{
		n:     n,
		left:  make([]int, len(sorted)),
		right: make([]int, len(sorted)),
		dist:  make([]float64, len(sorted)),
		size:  make([]int, len(sorted)),
	}

	parent := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for k, e := range sorted {
		ra, rb := minMax(find(e.a), find(e.b))
		node := n + k
		h.left[k] = ra
		h.right[k] = rb
		h.dist[k] = e.weight
		h.size[k] = h.sizeOf(ra) + h.sizeOf(rb)
		parent[ra] = node
		parent[rb] = node
	}
	return h
}

func minMax(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}

// maxLambda caps 1/distance for coincident points
const maxLambda = 1e12

func lambdaFor(d float64) float64 {
	if d < 1.0/maxLambda {
		return maxLambda
	}
	return 1.0 / d
}

// condensedEdge links a cluster label to either a point (child < n) or a
// child cluster label (child >= n).
type condensedEdge struct {
	parent int
	child  int
	lambda float64
	size   int
}

type condensedTree struct {
	n     int
	root  int
	next  int
	edges []condensedEdge
}

// condense walks the hierarchy top-down. A split where both sides have at
// least m points creates two new clusters; otherwise the larger side keeps
// the parent's label and the points of any side smaller than m fall out.
func condense(h *hierarchy, m int) *condensedTree {
	n := h.n
	t := &condensedTree{n: n, root: n, next: n + 1}
	rootNode := 2*n - 2

	label := map[int]int{rootNode: t.root}
	queue := []int{rootNode}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		parentLabel := label[node]
		k := node - n
		lambda := lambdaFor(h.dist[k])
		left, right := h.left[k], h.right[k]
		ls, rs := h.sizeOf(left), h.sizeOf(right)

		switch {
		case ls >= m && rs >= m:
			for _, child := range [2]int{left, right} {
				label[child] = t.next
				t.edges = append(t.edges, condensedEdge{
					parent: parentLabel, child: t.next, lambda: lambda, size: h.sizeOf(child),
				})
				t.next++
				queue = append(queue, child)
			}
		case ls < m && rs < m:
			t.fallOut(h, parentLabel, left, lambda)
			t.fallOut(h, parentLabel, right, lambda)
		case ls >= m:
			label[left] = parentLabel
			queue = append(queue, left)
			t.fallOut(h, parentLabel, right, lambda)
		default:
			label[right] = parentLabel
			queue = append(queue, right)
			t.fallOut(h, parentLabel, left, lambda)
		}
	}
	return t
}

func (t *condensedTree) fallOut(h *hierarchy, parentLabel, node int, lambda float64) {
	stack := []int{node}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur < h.n {
			t.edges = append(t.edges, condensedEdge{parent: parentLabel, child: cur, lambda: lambda, size: 1})
			continue
		}
		k := cur - h.n
		stack = append(stack, h.right[k], h.left[k])
	}
}

// clusterChildren returns the child cluster labels of each cluster label
func (t *condensedTree) clusterChildren() map[int][]int {
	children := make(map[int][]int)
	for _, e := range t.edges {
		if e.child >= t.n {
			children[e.parent] = append(children[e.parent], e.child)
		}
	}
	return children
}

// stability computes sum((lambda - birth) * size) over each cluster's edges
func (t *condensedTree) stability() []float64 {
	birth := make([]float64, t.next)
	for _, e := range t.edges {
		if e.child >= t.n {
			birth[e.child] = e.lambda
		}
	}

	stab := make([]float64, t.next)
	for _, e := range t.edges {
		stab[e.parent] += (e.lambda - birth[e.parent]) * float64(e.size)
	}
	return stab
}

// selectClusters performs excess-of-mass selection. Labels are visited from
// the leaves upward; a cluster is kept when its own stability is at least
// the combined stability of its selected descendants.
func (t *condensedTree) selectClusters(allowSingle bool) []bool {
	stab := t.stability()
	children := t.clusterChildren()
	selected := make([]bool, t.next)

	for label := t.next - 1; label >= t.root; label-- {
		if label == t.root && !allowSingle {
			continue
		}
		subtree := 0.0
		for _, c := range children[label] {
			subtree += stab[c]
		}
		if len(children[label]) > 0 && subtree > stab[label] {
			selected[label] = false
			stab[label] = subtree
			continue
		}
		selected[label] = true
		stack := append([]int(nil), children[label]...)
		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			selected[c] = false
			stack = append(stack, children[c]...)
		}
	}
	return selected
}

// labelPoints assigns each point to its nearest selected ancestor, or -1.
// When the root itself is selected, a point whose outlier score
// 1 - lambda_p/lambda_max is above threshold is noise; lambda_max is the
// largest lambda at which any point leaves the tree.
func (t *condensedTree) labelPoints(selected []bool, threshold float64) []int {
	clusterParent := make(map[int]int)
	pointParent := make([]int, t.n)
	pointLambda := make([]float64, t.n)
	maxPointLambda := 0.0
	for _, e := range t.edges {
		if e.child >= t.n {
			clusterParent[e.child] = e.parent
			continue
		}
		pointParent[e.child] = e.parent
		pointLambda[e.child] = e.lambda
		if e.lambda > maxPointLambda {
			maxPointLambda = e.lambda
		}
	}

	labels := make([]int, t.n)
	for p := 0; p < t.n; p++ {
		labels[p] = -1
		c := pointParent[p]
		for {
			if selected[c] {
				labels[p] = c
				break
			}
			if c == t.root {
				break
			}
			c = clusterParent[c]
		}
		if labels[p] == t.root && outlierScore(pointLambda[p], maxPointLambda) > threshold {
			labels[p] = -1
		}
	}
	return labels
}

func outlierScore(lambda, maxLambda float64) float64 {
	if maxLambda <= 0 {
		return 0
	}
	return 1 - lambda/maxLambda
}

// buildResult groups labelled points, demotes undersized clusters to noise
// and orders clusters by their first member.
func buildResult(labels []int, m int) *Result {
	groups := make(map[int][]int)
	var order []int
	noise := []int{}
	for p, l := range labels {
		if l < 0 {
			noise = append(noise, p)
			continue
		}
		if _, ok := groups[l]; !ok {
			order = append(order, l)
		}
		groups[l] = append(groups[l], p)
	}

	clusters := [][]int{}
	for _, l := range order {
		members := groups[l]
		if len(members) < m {
			noise = append(noise, members...)
			continue
		}
		clusters = append(clusters, members)
	}

	sort.Ints(noise)
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return &Result{Clusters: clusters, Noise: noise}
}

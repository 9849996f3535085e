// Package classifier runs the maternal risk gradient-boosted tree ensemble
// in process and explains each prediction with per-feature path attributions.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/maternal-triage-engine/internal/domain"
)

// Artifact is the on-disk model format.
type Artifact struct {
	Version       string       `json:"version"`
	Features      []string     `json:"features"`
	Classes       []string     `json:"classes"`
	BaseScore     []float64    `json:"base_score"`
	FeatureRanges [][2]float64 `json:"feature_ranges,omitempty"`
	Trees         []Tree       `json:"trees"`
}

// Tree is one regression tree contributing to a single class score.
type Tree struct {
	Class int    `json:"class"`
	Nodes []Node `json:"nodes"`
}

// Node is a split or a leaf. Leaves have Left == Right == -1. Internal nodes
// carry the expected output of their subtree in Value, which drives attribution.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

func (n Node) leaf() bool {
	return n.Left < 0 && n.Right < 0
}

// Model is a validated, immutable ensemble. It is safe for concurrent use.
type Model struct {
	version string
	classes []domain.Tier
	base    []float64
	ranges  [][2]float64
	trees   []Tree
}

// LoadModel reads and validates an artifact from disk.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes and validates an artifact.
func ParseModel(data []byte) (*Model, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding model artifact: %w", err)
	}
	return NewModel(a)
}

// NewModel validates an artifact and builds a model from it.
func NewModel(a Artifact) (*Model, error) {
	if a.Version == "" {
		return nil, fmt.Errorf("model artifact has no version")
	}

	if len(a.Features) != domain.NumFeatures {
		return nil, fmt.Errorf("model expects %d features, engine provides %d", len(a.Features), domain.NumFeatures)
	}
	for i, name := range a.Features {
		if name != domain.FeatureNames[i] {
			return nil, fmt.Errorf("feature %d is %q, expected %q", i, name, domain.FeatureNames[i])
		}
	}

	classes := make([]domain.Tier, len(a.Classes))
	seen := make(map[domain.Tier]bool, len(a.Classes))
	for i, c := range a.Classes {
		tier := domain.Tier(c)
		if !tier.IsValid() {
			return nil, fmt.Errorf("class %q: %w", c, domain.ErrInvalidTier)
		}
		if seen[tier] {
			return nil, fmt.Errorf("class %q listed twice", c)
		}
		seen[tier] = true
		classes[i] = tier
	}
	if len(classes) != len(domain.Tiers) {
		return nil, fmt.Errorf("model must cover all %d tiers, has %d", len(domain.Tiers), len(classes))
	}

	base := a.BaseScore
	if base == nil {
		base = make([]float64, len(classes))
	}
	if len(base) != len(classes) {
		return nil, fmt.Errorf("base_score has %d entries for %d classes", len(base), len(classes))
	}

	if a.FeatureRanges != nil && len(a.FeatureRanges) != domain.NumFeatures {
		return nil, fmt.Errorf("feature_ranges has %d entries for %d features", len(a.FeatureRanges), domain.NumFeatures)
	}
	for i, r := range a.FeatureRanges {
		if r[0] > r[1] {
			return nil, fmt.Errorf("feature_ranges[%d] is inverted", i)
		}
	}

	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}
	for i, t := range a.Trees {
		if err := validateTree(t, len(classes)); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}

	return &Model{
		version: a.Version,
		classes: classes,
		base:    base,
		ranges:  a.FeatureRanges,
		trees:   a.Trees,
	}, nil
}

// validateTree requires children to appear after their parent so that every
// walk terminates.
func validateTree(t Tree, numClasses int) error {
	if t.Class < 0 || t.Class >= numClasses {
		return fmt.Errorf("class index %d out of range", t.Class)
	}
	if len(t.Nodes) == 0 {
		return fmt.Errorf("no nodes")
	}
	for i, n := range t.Nodes {
		if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
			return fmt.Errorf("node %d has non-finite value", i)
		}
		if n.leaf() {
			continue
		}
		if n.Feature < 0 || n.Feature >= domain.NumFeatures {
			return fmt.Errorf("node %d splits on unknown feature %d", i, n.Feature)
		}
		if math.IsNaN(n.Threshold) || math.IsInf(n.Threshold, 0) {
			return fmt.Errorf("node %d has non-finite threshold", i)
		}
		for _, child := range []int{n.Left, n.Right} {
			if child <= i || child >= len(t.Nodes) {
				return fmt.Errorf("node %d has invalid child %d", i, child)
			}
		}
	}
	return nil
}

// Version returns the artifact version string.
func (m *Model) Version() string {
	return m.version
}

// Classes returns the output tiers in score order.
func (m *Model) Classes() []domain.Tier {
	return append([]domain.Tier(nil), m.classes...)
}

// NumTrees returns the ensemble size.
func (m *Model) NumTrees() int {
	return len(m.trees)
}

// InDomain reports the first feature outside the training range, if any.
func (m *Model) InDomain(x domain.FeatureVector) (string, bool) {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.FeatureNames[i], false
		}
		if m.ranges != nil && (v < m.ranges[i][0] || v > m.ranges[i][1]) {
			return domain.FeatureNames[i], false
		}
	}
	return "", true
}

// prediction is the raw result of one ensemble evaluation.
type prediction struct {
	probabilities []float64
	contributions [][domain.NumFeatures]float64
}

// predict sums tree outputs per class and records the Saabas path
// contribution of every split. ctx is checked between trees.
func (m *Model) predict(ctx context.Context, x domain.FeatureVector) (*prediction, error) {
	scores := append([]float64(nil), m.base...)
	contrib := make([][domain.NumFeatures]float64, len(m.classes))

	for _, t := range m.trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := 0
		for {
			n := t.Nodes[idx]
			if n.leaf() {
				break
			}
			next := n.Right
			if x[n.Feature] < n.Threshold {
				next = n.Left
			}
			contrib[t.Class][n.Feature] += t.Nodes[next].Value - n.Value
			idx = next
		}
		scores[t.Class] += t.Nodes[idx].Value
	}

	return &prediction{
		probabilities: softmax(scores),
		contributions: contrib,
	}, nil
}

func softmax(scores []float64) []float64 {
	max := math.Inf(-1)
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// checkDistribution rejects malformed probability vectors.
func checkDistribution(p []float64) error {
	var sum float64
	for i, v := range p {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("probability %d is %v", i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("probabilities sum to %v", sum)
	}
	return nil
}

// rankAttributions orders contributions by magnitude, largest first, and keeps
// at most limit entries (all when limit <= 0).
func rankAttributions(c [domain.NumFeatures]float64, limit int) []domain.Attribution {
	out := make([]domain.Attribution, 0, domain.NumFeatures)
	for i, v := range c {
		out = append(out, domain.Attribution{Feature: domain.FeatureNames[i], Contribution: v})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Contribution) > math.Abs(out[j].Contribution)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

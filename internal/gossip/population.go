package gossip

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// ErrInvalidPopulation is returned for population parameters that cannot
// yield a valid honest/malicious split.
var ErrInvalidPopulation = errors.New("invalid population")

// Assignment decides which ids become malicious. Every mode yields exactly
// MaliciousCount(n, f) malicious nodes.
type Assignment int

const (
	AssignBlock       Assignment = iota // ids 0..k-1
	AssignInterleaved                   // evenly spaced ids
	AssignRandom                        // k ids sampled without replacement
)

func (a Assignment) String() string {
	switch a {
	case AssignBlock:
		return "block"
	case AssignInterleaved:
		return "interleaved"
	case AssignRandom:
		return "random"
	default:
		return fmt.Sprintf("assignment(%d)", int(a))
	}
}

// ParseAssignment parses "block", "interleaved" or "random".
func ParseAssignment(s string) (Assignment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block", "":
		return AssignBlock, nil
	case "interleaved":
		return AssignInterleaved, nil
	case "random":
		return AssignRandom, nil
	}
	return 0, fmt.Errorf("unknown assignment %q", s)
}

// PopulationConfig describes the cohort to build.
type PopulationConfig struct {
	Nodes             int
	MaliciousFraction float64
	Assignment        Assignment
	Restore           RestorePolicy
}

// NodeFactory returns the configuration for node id. The builder decides the role.
type NodeFactory func(id int) NodeConfig

// fractionTolerance absorbs binary rounding of decimal fractions, so that
// 100 × 0.29 counts as 29 rather than 28.999999999999996.
const fractionTolerance = 1e-9

// MaliciousCount returns floor(n × f).
func MaliciousCount(n int, f float64) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d nodes", ErrInvalidPopulation, n)
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, fmt.Errorf("%w: malicious fraction %v outside [0,1]", ErrInvalidPopulation, f)
	}
	k := int(math.Floor(float64(n)*f + fractionTolerance))
	if k < 0 || k > n {
		return 0, fmt.Errorf("%w: %d malicious out of %d", ErrInvalidPopulation, k, n)
	}
	return k, nil
}

// MaliciousSet returns, for each id in [0, n), whether it is malicious.
func MaliciousSet(cfg PopulationConfig, rng *rand.Rand) ([]bool, error) {
	k, err := MaliciousCount(cfg.Nodes, cfg.MaliciousFraction)
	if err != nil {
		return nil, err
	}
	n := cfg.Nodes
	bad := make([]bool, n)
	switch cfg.Assignment {
	case AssignBlock:
		for i := range k {
			bad[i] = true
		}
	case AssignInterleaved:
		for i := range k {
			bad[i*n/k] = true
		}
	case AssignRandom:
		for _, id := range rng.Perm(n)[:k] {
			bad[id] = true
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidPopulation, cfg.Assignment)
	}
	return bad, nil
}

// BuildPopulation creates nodes with ids 0..Nodes-1, exactly
// floor(Nodes × MaliciousFraction) of them malicious.
func BuildPopulation(cfg PopulationConfig, rng *rand.Rand, factory NodeFactory) ([]Node, error) {
	bad, err := MaliciousSet(cfg, rng)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, cfg.Nodes)
	for id := range nodes {
		nc := factory(id)
		nc.ID = id
		if bad[id] {
			nodes[id] = NewMalicious(nc, cfg.Restore)
		} else {
			nodes[id] = NewHonest(nc)
		}
	}
	return nodes, nil
}

// CountRole returns how many nodes have role r.
func CountRole(nodes []Node, r Role) int {
	n := 0
	for _, node := range nodes {
		if node.Role() == r {
			n++
		}
	}
	return n
}

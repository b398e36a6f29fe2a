package opt

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"autoplan/internal/model"
)

// Config tunes the tabu search.
type Config struct {
	MaxIterations      int
	TabuTenure         int
	NeighborSamples    int
	NoImprovementLimit int
	// Seed feeds the random source when Rand is nil. Zero means time-based.
	Seed int64
	Rand *rand.Rand
	// Workers evaluates sampled neighbors in parallel when > 1.
	Workers int
	// Observer, when set, sees every move the search commits to.
	Observer func(Step)
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{MaxIterations: 1000, TabuTenure: 50, NeighborSamples: 20, NoImprovementLimit: 50, Workers: 1}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.TabuTenure <= 0 {
		c.TabuTenure = d.TabuTenure
	}
	if c.NeighborSamples <= 0 {
		c.NeighborSamples = d.NeighborSamples
	}
	if c.NoImprovementLimit <= 0 {
		c.NoImprovementLimit = d.NoImprovementLimit
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Move swaps two sequence positions, A < B.
type Move struct{ A, B int }

func newMove(i, j int) Move {
	if i > j {
		i, j = j, i
	}
	return Move{A: i, B: j}
}

func (m Move) String() string { return strconv.Itoa(m.A) + ":" + strconv.Itoa(m.B) }

// Step describes one committed move.
type Step struct {
	Iteration  int
	Move       Move
	Fitness    float64
	BestBefore float64
	WasTabu    bool
}

// Stop reasons.
const (
	StopMaxIterations = "max_iterations"
	StopNoImprovement = "no_improvement"
	StopNoCandidate   = "no_candidate"
	StopTooShort      = "sequence_too_short"
	StopCanceled      = "canceled"
)

type Metrics struct {
	Iterations        int           `json:"iterations"`
	Improvements      int           `json:"improvements"`
	TabuRejected      int           `json:"tabuRejected"`
	AspirationHits    int           `json:"aspirationHits"`
	DegenerateSamples int           `json:"degenerateSamples"`
	InitialFitness    float64       `json:"initialFitness"`
	BestFitness       float64       `json:"bestFitness"`
	StopReason        string        `json:"stopReason"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Result is the outcome of a search.
type Result struct {
	Best        Solution
	BestFitness float64
	Feasible    bool
	Routes      []model.OptimizedRoute
	Metrics     Metrics
}

// Status maps the result onto a run status.
func (r Result) Status() model.Status {
	if r.Feasible {
		return model.StatusCompleted
	}
	return model.StatusFailed
}

type candidate struct {
	move    Move
	sol     Solution
	fitness float64
}

// Search runs tabu search from a random solution. Cancelling ctx stops it between iterations.
func Search(ctx context.Context, p *Problem, cfg Config) Result {
	cfg = cfg.withDefaults()
	start := time.Now()
	rng := cfg.Rand
	if rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}

	current := NewRandomSolution(p.OrderCount(), p.GroupCount(), rng)
	best := current.Copy()
	bestFitness := Fitness(p, best)
	m := Metrics{InitialFitness: bestFitness, StopReason: StopMaxIterations}

	tabu := newTabuList(cfg.TabuTenure)
	stale := 0

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if ctx.Err() != nil {
			m.StopReason = StopCanceled
			break
		}
		n := len(current)
		if n < 2 {
			m.StopReason = StopTooShort
			break
		}
		m.Iterations++

		// Degenerate i == j draws use up a sample slot.
		moves := make([]Move, 0, cfg.NeighborSamples)
		for s := 0; s < cfg.NeighborSamples; s++ {
			i, j := rng.Intn(n), rng.Intn(n)
			if i == j {
				m.DegenerateSamples++
				continue
			}
			moves = append(moves, newMove(i, j))
		}
		cands := evaluateMoves(p, current, moves, cfg.Workers)

		var chosen *candidate
		chosenFitness := Infeasible
		chosenTabu := false
		for k := range cands {
			c := &cands[k]
			isTabu := tabu.contains(c.move)
			aspiration := c.fitness < bestFitness
			if isTabu && !aspiration {
				m.TabuRejected++
				continue
			}
			if c.fitness < chosenFitness {
				chosen, chosenFitness, chosenTabu = c, c.fitness, isTabu
			}
		}
		if chosen == nil {
			m.StopReason = StopNoCandidate
			break
		}
		if chosenTabu {
			m.AspirationHits++
		}
		if cfg.Observer != nil {
			cfg.Observer(Step{Iteration: iter, Move: chosen.move, Fitness: chosenFitness, BestBefore: bestFitness, WasTabu: chosenTabu})
		}

		current = chosen.sol
		tabu.push(chosen.move)

		if chosenFitness < bestFitness {
			best = current.Copy()
			bestFitness = chosenFitness
			stale = 0
			m.Improvements++
		} else {
			stale++
		}
		if stale >= cfg.NoImprovementLimit {
			m.StopReason = StopNoImprovement
			break
		}
	}

	res := Result{Best: best, BestFitness: bestFitness}
	res.Routes, res.Feasible = Materialize(p, best)
	m.BestFitness = bestFitness
	m.Elapsed = time.Since(start)
	res.Metrics = m
	return res
}

// tabuList is a FIFO of recent moves backed by a set. A move chosen again through
// aspiration is queued twice but stored once, so evicting its older entry frees it.
type tabuList struct {
	tenure int
	queue  []Move
	set    map[Move]struct{}
}

func newTabuList(tenure int) *tabuList {
	return &tabuList{tenure: tenure, queue: make([]Move, 0, tenure+1), set: make(map[Move]struct{}, tenure+1)}
}

func (t *tabuList) contains(m Move) bool {
	_, ok := t.set[m]
	return ok
}

func (t *tabuList) push(m Move) {
	t.queue = append(t.queue, m)
	t.set[m] = struct{}{}
	if len(t.queue) > t.tenure {
		delete(t.set, t.queue[0])
		t.queue = t.queue[1:]
	}
}

// evaluateMoves applies each move to a copy of current and scores it. Output order matches
// moves, so the choice made from it does not depend on the worker count.
func evaluateMoves(p *Problem, current Solution, moves []Move, workers int) []candidate {
	out := make([]candidate, len(moves))
	build := func(k int) {
		sol := current.Copy()
		sol.Swap(moves[k].A, moves[k].B)
		out[k] = candidate{move: moves[k], sol: sol, fitness: Fitness(p, sol)}
	}
	if workers <= 1 || len(moves) < 2 {
		for k := range moves {
			build(k)
		}
		return out
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for k := range moves {
		g.Go(func() error {
			build(k)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

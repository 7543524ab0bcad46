package infer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gradmatch/internal/gp"
)

const (
	initialThetaStep  = 0.1
	initialLatentStep = 0.1
	initialGammaStep  = 0.3
)

// Chain is one Metropolis-Hastings replica. It owns its state payload, its
// per-move adaptive step sizes and its random source; the posterior and the
// GP models behind it are shared read-only.
type Chain struct {
	Rung int
	Beta float64

	post *Posterior
	expl *ExplicitPosterior

	state      *State
	terms      Terms
	logPost    float64
	facs       []*gp.MatchFactor
	steps      map[string]*stepSize
	rng        *rand.Rand
	adaptEvery int
	blockLen   int
	fixedGamma bool
	rungGamma  []float64
}

// NewChain builds a gradient-matching chain. fixedGamma marks the
// mismatch-tempering scheme, where the gamma row belongs to the rung and is
// never sampled or exchanged.
func NewChain(post *Posterior, st *State, rung int, beta float64, fixedGamma bool, adaptEvery int, rng *rand.Rand) (*Chain, error) {
	if post == nil {
		return nil, errors.New("posterior is required")
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	points, vars := post.Dims()
	if len(st.Gamma) != vars {
		return nil, fmt.Errorf("state has %d mismatch values for %d variables", len(st.Gamma), vars)
	}

	facs := make([]*gp.MatchFactor, vars)
	for k := 0; k < vars; k++ {
		fac, err := post.Models()[k].NewMatchFactor(st.Gamma[k])
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", k, err)
		}
		facs[k] = fac
	}

	c := &Chain{
		Rung:       rung,
		Beta:       beta,
		post:       post,
		state:      st,
		facs:       facs,
		steps:      make(map[string]*stepSize),
		rng:        rng,
		adaptEvery: adaptEvery,
		blockLen:   max(1, points/5),
		fixedGamma: fixedGamma,
	}
	if fixedGamma {
		c.rungGamma = append([]float64(nil), st.Gamma...)
	}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewExplicitChain builds a chain over the explicit-integration posterior.
func NewExplicitChain(expl *ExplicitPosterior, st *State, rung int, beta float64, adaptEvery int, rng *rand.Rand) (*Chain, error) {
	if expl == nil {
		return nil, errors.New("posterior is required")
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if len(st.Theta) != expl.ParamLen() {
		return nil, fmt.Errorf("state has %d parameters, explicit posterior wants %d", len(st.Theta), expl.ParamLen())
	}
	c := &Chain{
		Rung:       rung,
		Beta:       beta,
		expl:       expl,
		state:      st,
		steps:      make(map[string]*stepSize),
		rng:        rng,
		adaptEvery: adaptEvery,
	}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) State() *State { return c.state }

// Current is the chain's cached joint log-posterior at its own temperature.
func (c *Chain) Current() float64 {
	if c.expl != nil {
		return c.logPost
	}
	return c.terms.Total(c.Beta)
}

func (c *Chain) Terms() Terms { return c.terms.Clone() }

// Refresh recomputes the cached log-posterior terms from scratch.
func (c *Chain) Refresh() error {
	if c.expl != nil {
		lp, err := c.expl.LogPosterior(c.state.Theta, c.Beta)
		if err != nil {
			return err
		}
		c.logPost = lp
		return nil
	}
	terms, err := c.post.Eval(c.state, c.facs)
	if err != nil {
		return err
	}
	c.terms = terms
	return nil
}

func (c *Chain) step(key string, initial float64) *stepSize {
	s, ok := c.steps[key]
	if !ok {
		s = newStepSize(initial)
		c.steps[key] = s
	}
	return s
}

func (c *Chain) acceptMH(delta float64) bool {
	if math.IsNaN(delta) {
		return false
	}
	if delta >= 0 {
		return true
	}
	return c.rng.Float64() < math.Exp(delta)
}

// Sweep runs one full iteration of sub-proposals: every parameter, a latent
// block per column, and the mismatch values when they are sampled. Each
// sub-proposal is accepted or rejected independently.
func (c *Chain) Sweep() error {
	if c.expl != nil {
		return c.sweepExplicit()
	}
	if err := c.sweepTheta(); err != nil {
		return err
	}
	if err := c.sweepLatent(); err != nil {
		return err
	}
	if c.post.InferGamma() && !c.fixedGamma {
		if err := c.sweepGamma(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) sweepTheta() error {
	_, vars := c.post.Dims()
	newMatch := make([]float64, vars)
	for j := range c.state.Theta {
		s := c.step(fmt.Sprintf("theta_%d", j), initialThetaStep)
		old := c.state.Theta[j]
		c.state.Theta[j] = old + c.rng.NormFloat64()*s.value

		newThetaPrior := c.post.ThetaPriorTerm(c.state.Theta)
		accepted := false
		if !math.IsInf(newThetaPrior, -1) {
			if _, err := c.post.MatchTerms(newMatch, c.state, c.facs); err != nil {
				return err
			}
			cand := Terms{
				Data:       c.terms.Data,
				GPPrior:    c.terms.GPPrior,
				Match:      newMatch,
				ThetaPrior: newThetaPrior,
				GammaPrior: c.terms.GammaPrior,
			}
			accepted = c.acceptMH(cand.Total(c.Beta) - c.terms.Total(c.Beta))
		}
		if accepted {
			copy(c.terms.Match, newMatch)
			c.terms.ThetaPrior = newThetaPrior
		} else {
			c.state.Theta[j] = old
		}
		s.observe(accepted, c.adaptEvery)
	}
	return nil
}

func (c *Chain) sweepLatent() error {
	points, vars := c.post.Dims()
	newMatch := make([]float64, vars)
	saved := make([]float64, c.blockLen)
	for k := 0; k < vars; k++ {
		s := c.step(fmt.Sprintf("x_%d", k), initialLatentStep)
		start := c.rng.Intn(points - c.blockLen + 1)
		for i := 0; i < c.blockLen; i++ {
			saved[i] = c.state.X.At(start+i, k)
			c.state.X.Set(start+i, k, saved[i]+c.rng.NormFloat64()*s.value)
		}

		newData := c.post.DataTerm(c.state.X, k)
		newGP := c.post.GPPriorTerm(c.state.X, k)
		if _, err := c.post.MatchTerms(newMatch, c.state, c.facs); err != nil {
			return err
		}
		cand := c.terms.Clone()
		cand.Data[k] = newData
		cand.GPPrior[k] = newGP
		copy(cand.Match, newMatch)

		accepted := c.acceptMH(cand.Total(c.Beta) - c.terms.Total(c.Beta))
		if accepted {
			c.terms = cand
		} else {
			for i := 0; i < c.blockLen; i++ {
				c.state.X.Set(start+i, k, saved[i])
			}
		}
		s.observe(accepted, c.adaptEvery)
	}
	return nil
}

func (c *Chain) sweepGamma() error {
	_, vars := c.post.Dims()
	newMatch := make([]float64, vars)
	tmpFacs := make([]*gp.MatchFactor, vars)
	for k := 0; k < vars; k++ {
		s := c.step(fmt.Sprintf("gamma_%d", k), initialGammaStep)
		old := c.state.Gamma[k]
		proposal := old * math.Exp(c.rng.NormFloat64()*s.value)

		fac, err := c.post.Models()[k].NewMatchFactor(proposal)
		accepted := false
		if err == nil {
			c.state.Gamma[k] = proposal
			copy(tmpFacs, c.facs)
			tmpFacs[k] = fac

			newGammaPrior := c.post.GammaPriorTerm(c.state.Gamma)
			if _, err := c.post.MatchTerms(newMatch, c.state, tmpFacs); err != nil {
				return err
			}
			cand := Terms{
				Data:       c.terms.Data,
				GPPrior:    c.terms.GPPrior,
				Match:      newMatch,
				ThetaPrior: c.terms.ThetaPrior,
				GammaPrior: newGammaPrior,
			}
			// Log-space random walk: the proposal is symmetric in log gamma,
			// so the density ratio carries a gamma'/gamma Jacobian.
			delta := cand.Total(c.Beta) - c.terms.Total(c.Beta) + math.Log(proposal) - math.Log(old)
			accepted = c.acceptMH(delta)
			if accepted {
				copy(c.terms.Match, newMatch)
				c.terms.GammaPrior = newGammaPrior
				c.facs[k] = fac
			} else {
				c.state.Gamma[k] = old
			}
		}
		s.observe(accepted, c.adaptEvery)
	}
	return nil
}

func (c *Chain) sweepExplicit() error {
	cand := make([]float64, len(c.state.Theta))
	for j := range c.state.Theta {
		s := c.step(fmt.Sprintf("theta_%d", j), initialThetaStep)
		copy(cand, c.state.Theta)
		cand[j] += c.rng.NormFloat64() * s.value

		lp, err := c.expl.LogPosterior(cand, c.Beta)
		if err != nil {
			return err
		}
		accepted := c.acceptMH(lp - c.logPost)
		if accepted {
			c.state.Theta[j] = cand[j]
			c.logPost = lp
		}
		s.observe(accepted, c.adaptEvery)
	}
	return nil
}

// ScoreState evaluates a foreign payload under this chain's rung: its gamma
// row in mismatch-tempering mode, its inverse temperature otherwise.
func (c *Chain) ScoreState(st *State) (float64, error) {
	if c.expl != nil {
		return c.expl.LogPosterior(st.Theta, c.Beta)
	}
	if c.fixedGamma {
		tmp := &State{ID: st.ID, Theta: st.Theta, X: st.X, Gamma: c.rungGamma}
		terms, err := c.post.Eval(tmp, c.facs)
		if err != nil {
			return 0, err
		}
		return terms.Total(c.Beta), nil
	}

	_, vars := c.post.Dims()
	facs := make([]*gp.MatchFactor, vars)
	for k := 0; k < vars; k++ {
		fac, err := c.post.Models()[k].NewMatchFactor(st.Gamma[k])
		if err != nil {
			return math.Inf(-1), nil
		}
		facs[k] = fac
	}
	terms, err := c.post.Eval(st, facs)
	if err != nil {
		return 0, err
	}
	return terms.Total(c.Beta), nil
}

// AdoptState installs a payload swapped in from another rung. In
// mismatch-tempering mode the gamma row stays with this rung; in free mode
// the sampled gamma travels with the payload and the factors are rebuilt.
func (c *Chain) AdoptState(st *State) error {
	if c.expl != nil {
		c.state = st
		return c.Refresh()
	}
	if c.fixedGamma {
		st.Gamma = append([]float64(nil), c.rungGamma...)
		c.state = st
		return c.Refresh()
	}

	_, vars := c.post.Dims()
	for k := 0; k < vars; k++ {
		fac, err := c.post.Models()[k].NewMatchFactor(st.Gamma[k])
		if err != nil {
			return fmt.Errorf("variable %d: %w", k, err)
		}
		c.facs[k] = fac
	}
	c.state = st
	return c.Refresh()
}

// AcceptanceRates reports the cumulative acceptance rate per move kind.
func (c *Chain) AcceptanceRates() map[string]float64 {
	out := make(map[string]float64, len(c.steps))
	for key, s := range c.steps {
		out[key] = s.rate()
	}
	return out
}

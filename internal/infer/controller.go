package infer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"gradmatch/internal/model"
)

// ControllerConfig wires one population run. Exactly one of Posterior and
// Explicit must be set. In mismatch-tempering mode every rung holds a fixed
// row of Mismatch and gamma is never sampled; otherwise the rungs follow the
// power-posterior inverse-temperature ladder.
type ControllerConfig struct {
	Posterior *Posterior
	Explicit  *ExplicitPosterior

	ChainCount     int
	Sweeps         int
	TemperMismatch bool
	Mismatch       *mat.Dense
	InitialTheta   []float64

	Seed    int64
	Workers int

	ExchangeInterval int
	ThinningInterval int
	TraceInterval    int
	AdaptInterval    int
	ProgressInterval int

	Logger *zap.Logger
}

// RunResult is the in-memory outcome of one population run. The cold chain
// is always the last rung.
type RunResult struct {
	Archive      *Archive
	Diagnostics  []model.SweepDiagnostics
	Acceptance   map[string]float64
	SwapAttempts int
	SwapAccepts  int
	RungHistory  [][]int
}

// Controller owns the tempering ladder of chains, runs their sweeps on a
// worker pool and proposes adjacent-rung exchanges between sweeps.
type Controller struct {
	cfg    ControllerConfig
	chains []*Chain
	rng    *rand.Rand
	logger *zap.Logger
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if (cfg.Posterior == nil) == (cfg.Explicit == nil) {
		return nil, errors.New("exactly one of the gradient-matching and explicit posteriors is required")
	}
	if cfg.ChainCount <= 0 {
		return nil, errors.New("chain count must be > 0")
	}
	if cfg.Sweeps <= 0 {
		return nil, errors.New("iteration budget must be > 0")
	}
	if cfg.Explicit != nil && cfg.TemperMismatch {
		return nil, errors.New("mismatch tempering does not apply in explicit mode")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ExchangeInterval <= 0 {
		cfg.ExchangeInterval = 10
	}
	if cfg.ThinningInterval <= 0 {
		cfg.ThinningInterval = 100
	}
	if cfg.TraceInterval <= 0 {
		cfg.TraceInterval = cfg.ThinningInterval
	}
	if cfg.AdaptInterval <= 0 {
		cfg.AdaptInterval = 50
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = max(1, cfg.Sweeps/20)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Controller{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: cfg.Logger,
	}
	if err := c.buildChains(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) buildChains() error {
	cfg := c.cfg
	c.chains = make([]*Chain, cfg.ChainCount)

	if cfg.Explicit != nil {
		betas := PowerLadder(cfg.ChainCount)
		_, params := cfg.Explicit.adapter.Dims()
		for i := 0; i < cfg.ChainCount; i++ {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(i) + 1))
			odeParams := c.startingTheta(cfg.Explicit.prior, params, rng)
			st := &State{ID: i, Theta: cfg.Explicit.InitialTheta(odeParams)}
			chain, err := NewExplicitChain(cfg.Explicit, st, i, betas[i], cfg.AdaptInterval, rng)
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			c.chains[i] = chain
		}
		return nil
	}

	post := cfg.Posterior
	_, vars := post.Dims()
	if cfg.TemperMismatch {
		if post.InferGamma() {
			return errors.New("mismatch tempering fixes gamma per rung; the posterior must not sample it")
		}
		if err := ValidateLadder(cfg.Mismatch, cfg.ChainCount, vars); err != nil {
			return err
		}
	} else if !post.InferGamma() {
		return errors.New("free inference samples gamma; the posterior must allow it")
	}

	betas := make([]float64, cfg.ChainCount)
	if cfg.TemperMismatch {
		for i := range betas {
			betas[i] = 1
		}
	} else {
		betas = PowerLadder(cfg.ChainCount)
	}

	for i := 0; i < cfg.ChainCount; i++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(i) + 1))
		theta := c.startingTheta(post.prior, post.ParamCount(), rng)

		gamma := make([]float64, vars)
		if cfg.TemperMismatch {
			mat.Row(gamma, i, cfg.Mismatch)
		} else {
			for k := range gamma {
				gamma[k] = 1
			}
		}

		st := post.InitialState(i, theta, gamma)
		chain, err := NewChain(post, st, i, betas[i], cfg.TemperMismatch, cfg.AdaptInterval, rng)
		if err != nil {
			return fmt.Errorf("chain %d: %w", i, err)
		}
		c.chains[i] = chain
	}
	return nil
}

func (c *Controller) startingTheta(prior ParamPrior, n int, rng *rand.Rand) []float64 {
	if len(c.cfg.InitialTheta) == n {
		return append([]float64(nil), c.cfg.InitialTheta...)
	}
	if sampler, ok := prior.(PriorSampler); ok {
		return sampler.SampleParams(rng, n)
	}
	theta := make([]float64, n)
	for i := range theta {
		theta[i] = 1
	}
	return theta
}

// Cold returns the posterior chain (the last rung).
func (c *Controller) Cold() *Chain {
	return c.chains[len(c.chains)-1]
}

func (c *Controller) Run(ctx context.Context) (RunResult, error) {
	paramCount := len(c.Cold().State().Theta)
	archive := NewArchive(paramCount)
	result := RunResult{Archive: archive}

	for sweep := 1; sweep <= c.cfg.Sweeps; sweep++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		if err := c.runSweep(ctx); err != nil {
			return RunResult{}, err
		}

		if len(c.chains) > 1 && sweep%c.cfg.ExchangeInterval == 0 {
			accepted, err := c.tryExchange()
			if err != nil {
				return RunResult{}, err
			}
			result.SwapAttempts++
			if accepted {
				result.SwapAccepts++
			}
			result.RungHistory = append(result.RungHistory, c.rungOccupancy())
		}

		cold := c.Cold()
		if sweep%c.cfg.ThinningInterval == 0 {
			archive.AddSample(append([]float64(nil), cold.State().Theta...))
			archive.AddLatent(cold.State().X)
		}
		if sweep%c.cfg.TraceInterval == 0 {
			archive.AddTrace(cold.Current())
		}
		if sweep%c.cfg.ProgressInterval == 0 {
			diag := c.diagnose(sweep, result)
			result.Diagnostics = append(result.Diagnostics, diag)
			c.logger.Debug("sweep",
				zap.Int("sweep", sweep),
				zap.Float64("cold_log_posterior", diag.ColdLogPosterior),
				zap.Float64("mean_log_posterior", diag.MeanLogPosterior),
				zap.Int("exchange_accepts", diag.ExchangeAccepts),
				zap.Int("exchange_attempts", diag.ExchangeAttempts))
		}
	}

	result.Acceptance = c.Cold().AcceptanceRates()
	return result, nil
}

// runSweep updates every chain independently on the worker pool. The pool
// drain is the synchronization barrier exchanges rely on.
func (c *Controller) runSweep(ctx context.Context) error {
	workers := c.cfg.Workers
	if workers > len(c.chains) {
		workers = len(c.chains)
	}
	if workers == 1 {
		for _, chain := range c.chains {
			if err := chain.Sweep(); err != nil {
				return err
			}
		}
		return nil
	}

	jobs := make(chan int)
	results := make(chan error, len(c.chains))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := ctx.Err(); err != nil {
					results <- err
					continue
				}
				results <- c.chains[idx].Sweep()
			}
		}()
	}
	for i := range c.chains {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			return err
		}
	}
	return nil
}

// tryExchange proposes swapping the payloads of one random adjacent pair.
func (c *Controller) tryExchange() (bool, error) {
	i := c.rng.Intn(len(c.chains) - 1)
	ci, cj := c.chains[i], c.chains[i+1]

	crossIJ, err := ci.ScoreState(cj.State())
	if err != nil {
		return false, err
	}
	crossJI, err := cj.ScoreState(ci.State())
	if err != nil {
		return false, err
	}

	p := ExchangeProbability(crossIJ, crossJI, ci.Current(), cj.Current())
	if c.rng.Float64() >= p {
		return false, nil
	}

	si, sj := ci.State(), cj.State()
	if err := ci.AdoptState(sj); err != nil {
		return false, err
	}
	if err := cj.AdoptState(si); err != nil {
		return false, err
	}
	return true, nil
}

// rungOccupancy snapshots which payload sits on each rung; every snapshot
// must be a permutation of the initial IDs.
func (c *Controller) rungOccupancy() []int {
	out := make([]int, len(c.chains))
	for i, chain := range c.chains {
		out[i] = chain.State().ID
	}
	return out
}

func (c *Controller) diagnose(sweep int, result RunResult) model.SweepDiagnostics {
	mean := 0.0
	for _, chain := range c.chains {
		mean += chain.Current()
	}
	mean /= float64(len(c.chains))

	rates := c.Cold().AcceptanceRates()
	all := 0.0
	for _, r := range rates {
		all += r
	}
	if len(rates) > 0 {
		all /= float64(len(rates))
	}

	return model.SweepDiagnostics{
		Sweep:             sweep,
		ColdLogPosterior:  c.Cold().Current(),
		MeanLogPosterior:  mean,
		ExchangeAttempts:  result.SwapAttempts,
		ExchangeAccepts:   result.SwapAccepts,
		ColdAcceptanceAll: all,
	}
}

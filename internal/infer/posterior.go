package infer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"gradmatch/internal/gp"
	"gradmatch/internal/model"
	"gradmatch/internal/odesys"
)

// State is one chain's sampled payload. ID travels with the payload through
// exchanges so rung occupancy stays checkable as a permutation.
type State struct {
	ID    int
	Theta []float64
	X     *mat.Dense
	Gamma []float64
}

func (s *State) Clone() *State {
	out := &State{
		ID:    s.ID,
		Theta: append([]float64(nil), s.Theta...),
		Gamma: append([]float64(nil), s.Gamma...),
	}
	if s.X != nil {
		out.X = mat.DenseCopyOf(s.X)
	}
	return out
}

// Terms holds the joint log-posterior decomposed per component and per
// column, so sub-proposals only recompute what they touched. Unobserved
// columns keep a hard zero data term.
type Terms struct {
	Data       []float64
	GPPrior    []float64
	Match      []float64
	ThetaPrior float64
	GammaPrior float64
}

func (t Terms) Clone() Terms {
	return Terms{
		Data:       append([]float64(nil), t.Data...),
		GPPrior:    append([]float64(nil), t.GPPrior...),
		Match:      append([]float64(nil), t.Match...),
		ThetaPrior: t.ThetaPrior,
		GammaPrior: t.GammaPrior,
	}
}

// Total combines the terms into the tempered joint log-posterior. beta
// weights the likelihood-like terms (data and gradient match); the GP prior
// on X and the parameter priors are never tempered.
func (t Terms) Total(beta float64) float64 {
	like := 0.0
	for i := range t.Match {
		like += t.Match[i] + t.Data[i]
	}
	if math.IsInf(like, -1) {
		return math.Inf(-1)
	}
	rest := t.ThetaPrior + t.GammaPrior
	for _, v := range t.GPPrior {
		rest += v
	}
	return beta*like + rest
}

// Posterior is the gradient-matching joint posterior shared read-only by all
// chains: dataset, fitted per-variable GP models, the validated ODE adapter
// and the parameter priors.
type Posterior struct {
	ds         model.Dataset
	adapter    *odesys.Adapter
	models     []*gp.VarModel
	prior      ParamPrior
	noiseVar   float64
	shift      []float64
	inferGamma bool
	gammaPrior distuv.Gamma
}

func NewPosterior(ds model.Dataset, adapter *odesys.Adapter, models []*gp.VarModel, prior ParamPrior, noiseSD float64, inferGamma bool) (*Posterior, error) {
	points, vars := ds.Dims()
	if len(models) != vars {
		return nil, fmt.Errorf("got %d gp models for %d variables: %w", len(models), vars, model.ErrDimensionMismatch)
	}
	for k, m := range models {
		if m.Len() != points {
			return nil, fmt.Errorf("gp model for variable %d covers %d points, want %d: %w", k, m.Len(), points, model.ErrDimensionMismatch)
		}
	}
	sysVars, _ := adapter.Dims()
	if sysVars != vars {
		return nil, fmt.Errorf("ode system has %d variables, data has %d: %w", sysVars, vars, model.ErrDimensionMismatch)
	}
	if prior == nil {
		prior = UniformPrior{}
	}
	if noiseSD <= 0 {
		return nil, fmt.Errorf("observation noise sd must be > 0, got %v", noiseSD)
	}

	shift := make([]float64, vars)
	for k := 0; k < vars; k++ {
		if !ds.Observed[k] {
			continue
		}
		col := ds.Column(k)
		sum := 0.0
		for _, v := range col {
			sum += v
		}
		shift[k] = sum / float64(len(col))
	}

	return &Posterior{
		ds:         ds,
		adapter:    adapter,
		models:     models,
		prior:      prior,
		noiseVar:   noiseSD * noiseSD,
		shift:      shift,
		inferGamma: inferGamma,
		gammaPrior: distuv.Gamma{Alpha: 1, Beta: 1},
	}, nil
}

func (p *Posterior) Dataset() model.Dataset { return p.ds }

func (p *Posterior) Models() []*gp.VarModel { return p.models }

func (p *Posterior) InferGamma() bool { return p.inferGamma }

func (p *Posterior) Dims() (points, vars int) { return p.ds.Dims() }

func (p *Posterior) ParamCount() int {
	_, params := p.adapter.Dims()
	return params
}

// DataTerm is the iid Gaussian data likelihood of column k, exactly zero for
// unobserved columns.
func (p *Posterior) DataTerm(x *mat.Dense, k int) float64 {
	if !p.ds.Observed[k] {
		return 0
	}
	points, _ := p.ds.Dims()
	total := 0.0
	for i := 0; i < points; i++ {
		r := p.ds.Observations.At(i, k) - x.At(i, k)
		total += -0.5*r*r/p.noiseVar - 0.5*math.Log(2*math.Pi*p.noiseVar)
	}
	return total
}

// GPPriorTerm scores column k of the latent state under its GP prior,
// shifted by the observed-column data mean.
func (p *Posterior) GPPriorTerm(x *mat.Dense, k int) float64 {
	points, _ := p.ds.Dims()
	col := make([]float64, points)
	for i := range col {
		col[i] = x.At(i, k) - p.shift[k]
	}
	return p.models[k].LogPrior(col)
}

// MatchTerms fills dst with the per-column product-of-experts gradient terms
// for the given state. A non-finite ODE evaluation sets every entry to -Inf
// and returns false; the move is then rejected, never fatal.
func (p *Posterior) MatchTerms(dst []float64, st *State, facs []*gp.MatchFactor) (bool, error) {
	deriv, ok, err := p.adapter.Evaluate(p.ds.Time, st.X, st.Theta)
	if err != nil {
		return false, err
	}
	if !ok {
		for k := range dst {
			dst[k] = math.Inf(-1)
		}
		return false, nil
	}

	points, vars := p.ds.Dims()
	col := make([]float64, points)
	f := make([]float64, points)
	for k := 0; k < vars; k++ {
		for i := 0; i < points; i++ {
			col[i] = st.X.At(i, k) - p.shift[k]
			f[i] = deriv.At(i, k)
		}
		dst[k] = p.models[k].MatchLogDensity(facs[k], col, f)
	}
	return true, nil
}

func (p *Posterior) ThetaPriorTerm(theta []float64) float64 {
	return sumLogDensities(p.prior, theta)
}

// GammaPriorTerm applies the Gamma(1,1) prior per column when the mismatch
// is a sampled parameter; in mismatch-tempering mode it contributes nothing.
func (p *Posterior) GammaPriorTerm(gamma []float64) float64 {
	if !p.inferGamma {
		return 0
	}
	total := 0.0
	for _, v := range gamma {
		if v <= 0 || math.IsNaN(v) {
			return math.Inf(-1)
		}
		total += p.gammaPrior.LogProb(v)
	}
	return total
}

// Eval recomputes every term from scratch. Chains use it at initialization
// and after exchanges; sub-proposals use the per-term methods above.
func (p *Posterior) Eval(st *State, facs []*gp.MatchFactor) (Terms, error) {
	_, vars := p.ds.Dims()
	t := Terms{
		Data:       make([]float64, vars),
		GPPrior:    make([]float64, vars),
		Match:      make([]float64, vars),
		ThetaPrior: p.ThetaPriorTerm(st.Theta),
		GammaPrior: p.GammaPriorTerm(st.Gamma),
	}
	for k := 0; k < vars; k++ {
		t.Data[k] = p.DataTerm(st.X, k)
		t.GPPrior[k] = p.GPPriorTerm(st.X, k)
	}
	if _, err := p.MatchTerms(t.Match, st, facs); err != nil {
		return Terms{}, err
	}
	return t, nil
}

// InitialState builds the starting payload for one chain: observed columns
// start at the data, unobserved columns at zero.
func (p *Posterior) InitialState(id int, theta, gamma []float64) *State {
	points, vars := p.ds.Dims()
	x := mat.NewDense(points, vars, nil)
	for k := 0; k < vars; k++ {
		if p.ds.Observed[k] {
			for i := 0; i < points; i++ {
				x.Set(i, k, p.ds.Observations.At(i, k))
			}
		}
	}
	return &State{
		ID:    id,
		Theta: append([]float64(nil), theta...),
		X:     x,
		Gamma: append([]float64(nil), gamma...),
	}
}

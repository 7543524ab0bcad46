package infer

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Archive accumulates the cold chain's thinned posterior samples, its
// log-posterior trace and a running mean of the latent trajectories. It is
// in-memory only and safe for concurrent readers.
type Archive struct {
	mu          sync.RWMutex
	paramCount  int
	samples     []float64
	sampleCount int
	trace       []float64
	latentSum   *mat.Dense
	latentCount int
}

func NewArchive(paramCount int) *Archive {
	return &Archive{paramCount: paramCount}
}

func (a *Archive) AddSample(theta []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, theta...)
	a.sampleCount++
}

func (a *Archive) AddTrace(logPosterior float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trace = append(a.trace, logPosterior)
}

func (a *Archive) AddLatent(x *mat.Dense) {
	if x == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latentSum == nil {
		a.latentSum = mat.DenseCopyOf(x)
	} else {
		a.latentSum.Add(a.latentSum, x)
	}
	a.latentCount++
}

func (a *Archive) SampleCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sampleCount
}

// Samples returns a copy of the archived parameter draws, one row per draw,
// or nil when nothing has been archived yet.
func (a *Archive) Samples() *mat.Dense {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.sampleCount == 0 {
		return nil
	}
	out := mat.NewDense(a.sampleCount, a.paramCount, nil)
	copy(out.RawMatrix().Data, a.samples)
	return out
}

func (a *Archive) Trace() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]float64(nil), a.trace...)
}

// LatentMean is the running mean of the archived latent trajectories, nil
// when none were recorded (explicit mode).
func (a *Archive) LatentMean() *mat.Dense {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latentSum == nil || a.latentCount == 0 {
		return nil
	}
	out := mat.DenseCopyOf(a.latentSum)
	out.Scale(1/float64(a.latentCount), out)
	return out
}

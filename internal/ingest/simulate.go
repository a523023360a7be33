package ingest

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
)

// LyaWavelength is the rest-frame Lyman-alpha wavelength in Angstrom.
const LyaWavelength = 1215.67

// SimulateConfig controls the synthetic forest generator.
type SimulateConfig struct {
	NumForests int
	Seed       uint64
	FirstLosID int64
	ZMin       float64
	ZMax       float64

	// Noise model: flux/continuum - 1 has variance
	// Eta*var_pipe + VarLSS + Fudge/var_pipe.
	Eta    float64
	VarLSS float64
	Fudge  float64

	// Per-forest var_pipe is drawn log-uniformly from this range.
	VarPipeMin float64
	VarPipeMax float64

	// MeanTransmission multiplies the continua by the mean Lyman-alpha
	// transmission of the absorber redshift.
	MeanTransmission bool
	// ExposuresDiffFraction of the forests get exposure differences.
	ExposuresDiffFraction float64
}

// DefaultSimulateConfig returns a configuration whose noise sits inside the
// default variance fit limits.
func DefaultSimulateConfig() SimulateConfig {
	return SimulateConfig{
		NumForests:       500,
		Seed:             1,
		FirstLosID:       1,
		ZMin:             2.3,
		ZMax:             3.2,
		Eta:              1.2,
		VarLSS:           0.05,
		VarPipeMin:       0.005,
		VarPipeMax:       0.3,
		MeanTransmission: true,
	}
}

func (c SimulateConfig) validate() error {
	switch {
	case c.NumForests < 1:
		return fmt.Errorf("simulate: num forests must be positive, got %d", c.NumForests)
	case !(c.ZMin > 0 && c.ZMax >= c.ZMin):
		return fmt.Errorf("simulate: redshift range [%v, %v]", c.ZMin, c.ZMax)
	case c.Eta < 0 || c.VarLSS < 0 || c.Fudge < 0:
		return fmt.Errorf("simulate: noise parameters must not be negative")
	case !(c.VarPipeMin > 0 && c.VarPipeMax >= c.VarPipeMin):
		return fmt.Errorf("simulate: var pipe range [%v, %v]", c.VarPipeMin, c.VarPipeMax)
	}
	return nil
}

// Truth holds the generating parameters of one synthetic forest.
type Truth struct {
	Amplitude float64
	Slope     float64
	VarPipe   float64
	// Continuum is the noiseless expected flux of every pixel.
	Continuum []float64
}

// ContinuumShape is the rest-frame quasar continuum of the generator: a mild
// power law with weak emission features and the Lyman-alpha wing.
func ContinuumShape(lambdaRest float64) float64 {
	c := math.Pow(lambdaRest/1100, -0.5)
	c += 0.05 * gauss(lambdaRest, 1073, 5)
	c += 0.08 * gauss(lambdaRest, 1123, 6)
	c += 1.5 * gauss(lambdaRest, LyaWavelength, 20)
	return c
}

func gauss(x, mu, sigma float64) float64 {
	d := (x - mu) / sigma
	return math.Exp(-0.5 * d * d)
}

// MeanTransmission is the mean Lyman-alpha transmission at observed
// wavelength lambdaObs.
func MeanTransmission(lambdaObs float64) float64 {
	z := lambdaObs/LyaWavelength - 1
	if z <= 0 {
		return 1
	}
	return math.Exp(-0.0023 * math.Pow(1+z, 3.64))
}

// Simulate draws cfg.NumForests forests on g. Forests that would have fewer
// than two pixels on the observed grid are redrawn.
func Simulate(g *grid.Grids, cfg SimulateConfig) ([]*forest.Forest, map[int64]Truth, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	unit := distuv.Uniform{Min: 0, Max: 1, Src: src}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	redshift := distuv.Uniform{Min: cfg.ZMin, Max: cfg.ZMax, Src: src}
	amplitude := distuv.LogNormal{Mu: math.Log(2), Sigma: 0.3, Src: src}
	slope := distuv.Uniform{Min: -0.2, Max: 0.2, Src: src}
	logVarPipe := distuv.Uniform{Min: math.Log(cfg.VarPipeMin), Max: math.Log(cfg.VarPipeMax), Src: src}
	ra := distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: src}
	sinDec := distuv.Uniform{Min: -1, Max: 1, Src: src}

	obs := g.Observed()
	rest := g.Rest()
	restLo := rest.First() - rest.Step()/2
	restHi := rest.Last() + rest.Step()/2

	forests := make([]*forest.Forest, 0, cfg.NumForests)
	truth := make(map[int64]Truth, cfg.NumForests)
	for attempts := 0; len(forests) < cfg.NumForests; attempts++ {
		if attempts > 100*cfg.NumForests {
			return nil, nil, fmt.Errorf("simulate: redshift range [%v, %v] does not overlap the observed grid", cfg.ZMin, cfg.ZMax)
		}
		z := redshift.Rand()
		var idx []int
		for i := 0; i < obs.Len(); i++ {
			xr := g.ToRest(obs.At(i), z)
			if xr >= restLo && xr < restHi {
				idx = append(idx, i)
			}
		}
		if len(idx) < 2 {
			continue
		}

		id := cfg.FirstLosID + int64(len(forests))
		t := Truth{
			Amplitude: amplitude.Rand(),
			Slope:     slope.Rand(),
			VarPipe:   math.Exp(logVarPipe.Rand()),
		}
		withDiff := unit.Rand() < cfg.ExposuresDiffFraction

		f := &forest.Forest{
			LosID: id,
			RA:    ra.Rand(),
			Dec:   math.Asin(sinDec.Rand()),
			Z:     z,
			Wave:  make([]float64, len(idx)),
			Flux:  make([]float64, len(idx)),
			Ivar:  make([]float64, len(idx)),
		}
		if withDiff {
			f.ExposuresDiff = make([]float64, len(idx))
		}
		t.Continuum = make([]float64, len(idx))
		for p, i := range idx {
			x := obs.At(i)
			xr := g.ToRest(x, z)
			xn := (xr - rest.First()) / (rest.Last() - rest.First())
			cont := t.Amplitude * (1 + t.Slope*(xn-0.5)) * ContinuumShape(g.Wavelength(xr))
			if cfg.MeanTransmission {
				cont *= MeanTransmission(g.Wavelength(x))
			}
			sigma := math.Sqrt(t.VarPipe) * cont

			flux := cont * (1 + math.Sqrt(cfg.VarLSS)*normal.Rand())
			flux += math.Sqrt(cfg.Eta) * sigma * normal.Rand()
			if cfg.Fudge > 0 {
				flux += cont * math.Sqrt(cfg.Fudge/t.VarPipe) * normal.Rand()
			}

			t.Continuum[p] = cont
			f.Wave[p] = x
			f.Flux[p] = flux
			f.Ivar[p] = 1 / (sigma * sigma)
			if withDiff {
				f.ExposuresDiff[p] = sigma * normal.Rand()
			}
		}
		forests = append(forests, f)
		truth[id] = t
	}
	return forests, truth, nil
}

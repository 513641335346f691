package reconcile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// plsFit is a fitted PLS1 regression: latent components extracted by NIPALS
// from standardized predictors against a single target. NIPALS is fully
// deterministic, so refitting on an unchanged window reproduces the fit
// exactly.
type plsFit struct {
	nComponents int
	xMean       []float64
	xScale      []float64
	yMean       float64
	yScale      float64
	coeffs      []float64 // regression coefficients in standardized space
}

// fitPLS fits a PLS1 model of y on the rows of X using up to k latent
// components. Fewer components are extracted when the residual matrix
// degenerates first.
func fitPLS(rows [][]float64, targets []float64, k int) (*plsFit, error) {
	n := len(rows)
	if n == 0 || n != len(targets) {
		return nil, fmt.Errorf("pls: %d predictor rows for %d targets", n, len(targets))
	}
	p := len(rows[0])
	if p == 0 {
		return nil, fmt.Errorf("pls: empty predictor vectors")
	}
	if k < 1 {
		k = 1
	}
	if k > p {
		k = p
	}
	if k > n-1 {
		k = n - 1
	}

	fit := &plsFit{
		nComponents: k,
		xMean:       make([]float64, p),
		xScale:      make([]float64, p),
	}

	// Standardize columns. Constant columns get unit scale so zero-filled
	// components contribute nothing instead of producing NaNs.
	for j := 0; j < p; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += rows[i][j]
		}
		mean := sum / float64(n)
		var ss float64
		for i := 0; i < n; i++ {
			d := rows[i][j] - mean
			ss += d * d
		}
		scale := math.Sqrt(ss / float64(n-1))
		if scale == 0 {
			scale = 1
		}
		fit.xMean[j] = mean
		fit.xScale[j] = scale
	}

	var ySum float64
	for _, y := range targets {
		ySum += y
	}
	fit.yMean = ySum / float64(n)
	var ySS float64
	for _, y := range targets {
		d := y - fit.yMean
		ySS += d * d
	}
	fit.yScale = math.Sqrt(ySS / float64(n-1))
	if fit.yScale == 0 {
		fit.yScale = 1
	}

	X := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			X.Set(i, j, (rows[i][j]-fit.xMean[j])/fit.xScale[j])
		}
	}
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		y.SetVec(i, (targets[i]-fit.yMean)/fit.yScale)
	}

	// NIPALS extraction: weights, loadings and target loadings per latent
	// component, deflating X and y as we go.
	W := mat.NewDense(p, k, nil)
	P := mat.NewDense(p, k, nil)
	q := make([]float64, k)
	extracted := 0

	for a := 0; a < k; a++ {
		w := mat.NewVecDense(p, nil)
		w.MulVec(X.T(), y)
		norm := mat.Norm(w, 2)
		if norm < 1e-12 {
			break
		}
		w.ScaleVec(1/norm, w)

		t := mat.NewVecDense(n, nil)
		t.MulVec(X, w)
		tt := mat.Dot(t, t)
		if tt < 1e-12 {
			break
		}

		pVec := mat.NewVecDense(p, nil)
		pVec.MulVec(X.T(), t)
		pVec.ScaleVec(1/tt, pVec)

		qa := mat.Dot(y, t) / tt

		// Deflate.
		var outer mat.Dense
		outer.Mul(t, pVec.T())
		X.Sub(X, &outer)
		var yDef mat.VecDense
		yDef.ScaleVec(qa, t)
		y.SubVec(y, &yDef)

		W.SetCol(a, rawVec(w))
		P.SetCol(a, rawVec(pVec))
		q[a] = qa
		extracted++
	}

	if extracted == 0 {
		return nil, fmt.Errorf("pls: no latent components could be extracted")
	}

	Wk := W.Slice(0, p, 0, extracted).(*mat.Dense)
	Pk := P.Slice(0, p, 0, extracted).(*mat.Dense)
	qk := mat.NewVecDense(extracted, q[:extracted])

	// B = W (P^T W)^{-1} q maps standardized predictors straight to the
	// standardized target.
	var ptw mat.Dense
	ptw.Mul(Pk.T(), Wk)
	var inner mat.VecDense
	if err := inner.SolveVec(&ptw, qk); err != nil {
		return nil, fmt.Errorf("pls: solve inner relation: %w", err)
	}
	var b mat.VecDense
	b.MulVec(Wk, &inner)

	fit.nComponents = extracted
	fit.coeffs = rawVec(&b)
	return fit, nil
}

// predict returns the fitted target value for one predictor vector on the
// original scale.
func (f *plsFit) predict(x []float64) (float64, error) {
	if len(x) != len(f.xMean) {
		return 0, fmt.Errorf("pls: predictor vector has %d values, model expects %d", len(x), len(f.xMean))
	}
	var yStd float64
	for j, v := range x {
		yStd += f.coeffs[j] * (v - f.xMean[j]) / f.xScale[j]
	}
	return yStd*f.yScale + f.yMean, nil
}

// residualStd is the sample standard deviation of the fit residuals on the
// original target scale.
func (f *plsFit) residualStd(rows [][]float64, targets []float64) (float64, error) {
	n := len(rows)
	if n < 2 {
		return 0, fmt.Errorf("pls: need at least 2 observations for residual spread")
	}
	var ss float64
	for i, row := range rows {
		pred, err := f.predict(row)
		if err != nil {
			return 0, err
		}
		d := targets[i] - pred
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1)), nil
}

func rawVec(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

package genotype

// Operation results are explicit two-state handles: either already
// materialized (Eager, Chunked) or deferred behind an eval closure
// (Dist). Force blocks until the value exists; there is no
// cancellation or timeout; it is a synchronous barrier with the
// worker pool, not an async primitive.

// CountsResult is the result handle of CountAlleles.
type CountsResult struct {
	value *AlleleCounts
	err   error
	eval  func() (*AlleleCounts, error)
}

func countsOf(v *AlleleCounts, err error) *CountsResult {
	return &CountsResult{value: v, err: err}
}

func deferredCounts(eval func() (*AlleleCounts, error)) *CountsResult {
	return &CountsResult{eval: eval}
}

// Force blocks until the counts are materialized and returns them.
func (r *CountsResult) Force() (*AlleleCounts, error) {
	if r.eval != nil {
		r.value, r.err = r.eval()
		r.eval = nil
	}
	return r.value, r.err
}

// VecResult is the result handle of CountHet and CountHom.
type VecResult struct {
	value []int
	err   error
	eval  func() ([]int, error)
}

func vecOf(v []int, err error) *VecResult {
	return &VecResult{value: v, err: err}
}

func deferredVec(eval func() ([]int, error)) *VecResult {
	return &VecResult{eval: eval}
}

// Force blocks until the vector is materialized and returns it.
func (r *VecResult) Force() ([]int, error) {
	if r.eval != nil {
		r.value, r.err = r.eval()
		r.eval = nil
	}
	return r.value, r.err
}

// MatResult is the result handle of Dosage.
type MatResult struct {
	value *DosageMatrix
	err   error
	eval  func() (*DosageMatrix, error)
}

func matOf(v *DosageMatrix, err error) *MatResult {
	return &MatResult{value: v, err: err}
}

func deferredMat(eval func() (*DosageMatrix, error)) *MatResult {
	return &MatResult{eval: eval}
}

// Force blocks until the matrix is materialized and returns it.
func (r *MatResult) Force() (*DosageMatrix, error) {
	if r.eval != nil {
		r.value, r.err = r.eval()
		r.eval = nil
	}
	return r.value, r.err
}

package tracking

import "math"

// Forbidden is the stand-in for infinity in an assignment cost matrix.
// Entries at or above it are never returned as assignments.
const Forbidden = 1e18

// HungarianAssign solves the rectangular assignment problem for an n×m
// cost matrix using Kuhn–Munkres with potentials, O(max(n,m)³). It returns
// assignments[i] = column assigned to row i, or -1 if row i is unassigned
// (more rows than columns, or only forbidden columns remain).
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	if m == 0 {
		for i := range result {
			result[i] = -1
		}
		return result
	}

	dim := max(n, m)

	// Forbidden and padding cells share a big-M cost just above any
	// all-finite assignment, which keeps the potentials small enough that
	// float64 still resolves the finite costs.
	maxFinite := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if v := math.Abs(cost[i][j]); v < Forbidden && v > maxFinite {
				maxFinite = v
			}
		}
	}
	big := (maxFinite+1)*float64(dim) + 1

	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m && cost[i][j] < Forbidden {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = big
			}
		}
	}

	// 1-indexed potentials; column 0 is virtual.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)   // p[j] = row matched to column j
	way := make([]int, dim+1) // way[j] = previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			rowAssign[p[j]-1] = j - 1
		}
	}

	for i := 0; i < n; i++ {
		col := rowAssign[i]
		if col < 0 || col >= m || cost[i][col] >= Forbidden {
			result[i] = -1
		} else {
			result[i] = col
		}
	}
	return result
}

package hostres

import (
	"runtime"
)

const (
	// perFileBudget is the memory a single in-flight file is expected to need:
	// a 50MP image decodes to roughly 200MB of RGBA.
	perFileBudget = 200 << 20

	maxJobConcurrency  = 4
	minFileConcurrency = 3
	maxFileConcurrency = 8
)

// HostInfo is the resource profile of the machine the service runs on.
type HostInfo struct {
	CPUs        int
	TotalMemory uint64 // bytes, 0 if unknown
	FreeMemory  uint64 // bytes, 0 if unknown
}

// Limits are the concurrency ceilings derived from a host profile.
type Limits struct {
	JobConcurrency  int
	FileConcurrency int
}

// Detect reads the CPU count and memory of the current host.
// GOMAXPROCS is used so container CPU limits are respected.
func Detect() HostInfo {
	total, free := readMemory()

	return HostInfo{
		CPUs:        runtime.GOMAXPROCS(0),
		TotalMemory: total,
		FreeMemory:  free,
	}
}

// ComputeConcurrency derives job and file ceilings from h.
//
// Jobs get one slot per two CPUs (1-4), files one per CPU (3-8). When free memory is
// known, the product of both is reduced until every in-flight file fits the budget,
// shrinking the job ceiling first.
func ComputeConcurrency(h HostInfo) Limits {
	cpus := max(h.CPUs, 1)

	jobs := min(max((cpus+1)/2, 1), maxJobConcurrency)
	files := min(max(cpus, minFileConcurrency), maxFileConcurrency)

	if h.FreeMemory > 0 {
		budget := max(int(h.FreeMemory/perFileBudget), 1)
		for jobs*files > budget && jobs > 1 {
			jobs--
		}
		for jobs*files > budget && files > 1 {
			files--
		}
	}

	return Limits{JobConcurrency: jobs, FileConcurrency: files}
}

// MemoryCeiling returns the heap size above which new file work is held back.
// It is fraction of the free memory when the host was read, or 0 (no ceiling) when unknown.
func MemoryCeiling(h HostInfo, fraction float64) uint64 {
	if h.FreeMemory == 0 || fraction <= 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}

	return uint64(float64(h.FreeMemory) * fraction)
}

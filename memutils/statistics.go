package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics totals the blocks of a memory pool and the graphics allocations placed in them
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	*s = Statistics{}
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics adds the smallest and largest allocation and free range. Min fields are
// math.MaxInt while nothing has been counted.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	*s = DetailedStatistics{
		AllocationSizeMin:  math.MaxInt,
		UnusedRangeSizeMin: math.MaxInt,
	}
}

func widen(lo, hi *int, minValue, maxValue int) {
	*lo = Min(*lo, minValue)
	*hi = Max(*hi, maxValue)
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++
	widen(&s.UnusedRangeSizeMin, &s.UnusedRangeSizeMax, size, size)
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
	widen(&s.AllocationSizeMin, &s.AllocationSizeMax, size, size)
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount
	widen(&s.UnusedRangeSizeMin, &s.UnusedRangeSizeMax, other.UnusedRangeSizeMin, other.UnusedRangeSizeMax)
	widen(&s.AllocationSizeMin, &s.AllocationSizeMax, other.AllocationSizeMin, other.AllocationSizeMax)
}

type statField struct {
	name  string
	value int
}

// WriteJSON writes the statistics into a pool entry of the memory report. Size spreads are left out
// while empty.
func (s *DetailedStatistics) WriteJSON(json *jwriter.ObjectState) {
	fields := []statField{
		{"BlockCount", s.BlockCount},
		{"BlockBytes", s.BlockBytes},
		{"AllocationCount", s.AllocationCount},
		{"AllocationBytes", s.AllocationBytes},
		{"UnusedRangeCount", s.UnusedRangeCount},
	}
	if s.AllocationCount > 0 {
		fields = append(fields, statField{"AllocationSizeMin", s.AllocationSizeMin}, statField{"AllocationSizeMax", s.AllocationSizeMax})
	}
	if s.UnusedRangeCount > 0 {
		fields = append(fields, statField{"UnusedRangeSizeMin", s.UnusedRangeSizeMin}, statField{"UnusedRangeSizeMax", s.UnusedRangeSizeMax})
	}

	for _, field := range fields {
		json.Name(field.name).Int(field.value)
	}
}

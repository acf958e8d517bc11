package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

// PageSize is the granularity the kernel memory manager rounds every object to
const PageSize int = 4096

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// RoundUpTo rounds value up to a multiple of an arbitrary, non-zero granularity
func RoundUpTo(value int, granularity int) int {
	return (value + granularity - 1) / granularity * granularity
}

// PowerOfTwoAtLeast returns the smallest value of the form floor * 2^n that is >= value
func PowerOfTwoAtLeast(floor int, value int) int {
	size := floor
	for size < value {
		size <<= 1
	}
	return size
}

package utils

import (
	"strings"

	"golang.org/x/exp/slices"
)

type Flags interface {
	~int32 | ~uint32
}

type flagName[T Flags] struct {
	flag T
	name string
}

// FlagStringMapping renders bitflag types as a pipe-separated list of registered names
type FlagStringMapping[T Flags] struct {
	names []flagName[T]
}

func NewFlagStringMapping[T Flags]() *FlagStringMapping[T] {
	return &FlagStringMapping[T]{}
}

func (m *FlagStringMapping[T]) Register(flag T, name string) {
	m.names = append(m.names, flagName[T]{flag: flag, name: name})
	slices.SortFunc(m.names, func(left, right flagName[T]) bool {
		return left.flag < right.flag
	})
}

func (m *FlagStringMapping[T]) FlagsToString(flags T) string {
	if flags == 0 {
		return "None"
	}

	var parts []string
	remaining := flags
	for _, entry := range m.names {
		if flags&entry.flag == entry.flag {
			parts = append(parts, entry.name)
			remaining &^= entry.flag
		}
	}

	if remaining != 0 {
		parts = append(parts, "Unknown")
	}

	return strings.Join(parts, "|")
}

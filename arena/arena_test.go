package arena

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
)

func TestArenaAccounting(t *testing.T) {
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer checked.AssertSize(t, 0)

	a := NewWithAllocator(checked, Unbounded)

	b := a.Allocate(128)
	require.Len(t, b, 128)
	require.EqualValues(t, 128, a.Allocated())

	b = a.Reallocate(256, b)
	require.EqualValues(t, 256, a.Allocated())

	b = a.Reallocate(64, b)
	require.EqualValues(t, 64, a.Allocated())
	require.EqualValues(t, 256, a.Peak())

	a.Free(b)
	require.EqualValues(t, 0, a.Allocated())
}

func TestArenaLimit(t *testing.T) {
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer checked.AssertSize(t, 0)

	a := NewWithAllocator(checked, 100)
	b := a.Allocate(64)

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			require.True(t, errors.Is(err, errors.OutOfMemory))
		}()

		a.Allocate(64)
	}()

	require.EqualValues(t, 64, a.Allocated(), "a refused allocation must not be accounted")
	a.Free(b)
}

func TestArenaBackingArrowBuilders(t *testing.T) {
	a := New(Unbounded)

	builder := array.NewInt64Builder(a)
	builder.AppendValues([]int64{1, 2, 3}, nil)
	arr := builder.NewArray()
	builder.Release()

	require.Positive(t, a.Allocated())

	arr.Release()
	require.Zero(t, a.Allocated())
}

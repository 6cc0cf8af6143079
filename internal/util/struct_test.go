package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/util"
)

type component struct{}

type components struct {
	Skipped *component `wire:"-"`
	Plain   string
	Ptr     *component
	Iface   interface{ Close() error }
	hidden  *component
}

type closer struct{}

func (closer) Close() error { return nil }

func TestIsStructInitialized(t *testing.T) {
	c := components{Ptr: &component{}, Iface: closer{}}
	require.NoError(t, util.IsStructInitialized(c))
	require.NoError(t, util.IsStructInitialized(&c))
	assert.Nil(t, c.hidden)

	c.Iface = nil
	err := util.IsStructInitialized(&c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Iface")

	c.Iface = closer{}
	c.Ptr = nil
	err = util.IsStructInitialized(&c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ptr")
}

func TestIsStructInitializedRejectsNonStructs(t *testing.T) {
	var nilPtr *components

	require.ErrorIs(t, util.IsStructInitialized(nilPtr), util.ErrNotAStruct)
	require.ErrorIs(t, util.IsStructInitialized(42), util.ErrNotAStruct)
}

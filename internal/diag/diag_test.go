package diag

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiags(t *testing.T) {
	var d Diags
	d.Add(0x20, KindTruncated, "window")
	d.Addf(0x10, KindSkipped, "byte 0x%02x", 0xd8)
	d.Add(0x10, KindOverlap, "sub_10")

	require.Equal(t, 3, d.Len())
	items := d.Items()
	assert.Equal(t, uint64(0x10), items[0].Addr)
	assert.Equal(t, KindOverlap, items[0].Kind)
	assert.Equal(t, "[skipped] 0x10: byte 0xd8", items[1].String())
	assert.Equal(t, 1, d.Count(KindTruncated))

	var other Diags
	other.Merge(&d)
	assert.Equal(t, 3, other.Len())
}

func TestDiags_Concurrent(t *testing.T) {
	var d Diags
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Add(uint64(i), KindSkipped, "x")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, d.Len())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("strict")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBestEffort, m)
	assert.Equal(t, "best-effort", m.String())
	_, err = ParseMode("lenient")
	assert.Error(t, err)
}

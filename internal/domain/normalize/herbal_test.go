package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHerbal(t *testing.T) {
	t.Parallel()
	herbal := []string{
		"Angelicae Gigantis Radix",
		"Ginkgo Biloba Leaf Dried Extract",
		"Hedera Helix Leaf Extract (5-7.5→1)",
		"Ivy Leaf 30% Ethanol Soft Extract",
		"Paeonia japonica root",
		"감초·계피",
		"Red Ginseng",
	}
	for _, s := range herbal {
		assert.True(t, IsHerbal(s), s)
	}

	notHerbal := []string{"", "pembrolizumab", "Imatinib Mesylate", "insulin glargine"}
	for _, s := range notHerbal {
		assert.False(t, IsHerbal(s), s)
	}
}

func TestPrimaryIngredient(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "amlodipine besylate", PrimaryIngredient(" amlodipine besylate / valsartan"))
	assert.Equal(t, "a", PrimaryIngredient("a;b"))
	assert.Equal(t, "ezetimibe", PrimaryIngredient("ezetimibe + rosuvastatin"))
	assert.Equal(t, "nivolumab", PrimaryIngredient("nivolumab"))
	assert.Equal(t, "", PrimaryIngredient(""))
}

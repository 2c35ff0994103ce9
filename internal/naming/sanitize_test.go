package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileSwedishChars(t *testing.T) {
	assert.Equal(t, "skaraborgs_lan", File("Skaråborgs Län"))
	assert.Equal(t, "malaren", File("Mälaren"))
	assert.Equal(t, "orebro", File("Örebro"))
}

func TestFileCollapsesNonWordRuns(t *testing.T) {
	assert.Equal(t, "a_b_c", File("a!! b   ---c"))
}

func TestFileTrimsAndBoundsLength(t *testing.T) {
	assert.Equal(t, "unnamed", File("   ***   "))
	assert.Equal(t, "unnamed", File(""))

	long := strings.Repeat("x", 200)
	got := File(long)
	assert.LessOrEqual(t, len([]rune(got)), MaxLength)
}

func TestFileIdempotent(t *testing.T) {
	inputs := []string{"Skaråborgs Län", "Hello World!!", "", "123abc", strings.Repeat("ö", 100)}
	for _, in := range inputs {
		once := File(in)
		twice := File(once)
		assert.Equal(t, once, twice, "File not idempotent for %q", in)
	}
}

func TestIdentifierCharset(t *testing.T) {
	got := Identifier("NVV Örebro-Layer #1")
	assert.Regexp(t, `^[A-Za-z0-9_]{1,64}$`, got)
}

func TestIdentifierLeadingDigit(t *testing.T) {
	got := Identifier("123_layer")
	assert.False(t, got[0] >= '0' && got[0] <= '9')
}

func TestIdentifierIdempotent(t *testing.T) {
	inputs := []string{"NVV Örebro-Layer #1", "123_layer", "a.b.c", strings.Repeat("z_", 50)}
	for _, in := range inputs {
		once := Identifier(in)
		twice := Identifier(once)
		assert.Equal(t, once, twice, "Identifier not idempotent for %q", in)
	}
}

func TestIdentifierLengthBound(t *testing.T) {
	got := Identifier(strings.Repeat("a", 500))
	assert.LessOrEqual(t, len([]rune(got)), MaxLength)
}

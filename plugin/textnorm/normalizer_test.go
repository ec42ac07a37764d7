package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampleNormalizer(t *testing.T) {
	assert.Equal(t, DefaultBudget, NewSampleNormalizer(0).Budget())
	assert.Equal(t, 300, NewSampleNormalizer(300).Budget())
	assert.Equal(t, 9, NewSampleNormalizer(1).Budget())
	assert.Equal(t, 9, NewSampleNormalizer(4).Budget())
}

func TestNormalize_Short(t *testing.T) {
	n := NewSampleNormalizer(0)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "机器学习模型优化", "机器学习模型优化"},
		{"whitespace squeezed", "  hello \n\n  world\t", "hello world"},
		{"empty", "", ""},
		{"invalid utf8 dropped", "a\xffb", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	n := NewSampleNormalizer(90)
	in := strings.Repeat("第一段内容。Second sentence here. ", 200)
	assert.Equal(t, n.Normalize(in), n.Normalize(in))
}

func TestNormalize_Bounded(t *testing.T) {
	for _, budget := range []int{0, 4, 150} {
		n := NewSampleNormalizer(budget)
		for _, in := range []string{
			strings.Repeat("数据缓存 cache ", 161),
			strings.Repeat("数据缓存 cache ", 500),
			strings.Repeat("机器学习", 1<<18),
			strings.Repeat("x", 1<<20),
		} {
			out := n.Normalize(in)
			require.True(t, utf8.ValidString(out))
			assert.LessOrEqual(t, utf8.RuneCountInString(out), n.Budget())
		}
	}
}

func TestSplit_Sections(t *testing.T) {
	n := NewSampleNormalizer(36)

	in := strings.Repeat("a", 400) + strings.Repeat("m", 400) + strings.Repeat("z", 400)
	s := n.Split(in)
	assert.Equal(t, strings.Repeat("a", 10), s.Front)
	assert.Equal(t, strings.Repeat("m", 10), s.Middle)
	assert.Equal(t, strings.Repeat("z", 10), s.Back)
	assert.Equal(t, 36, utf8.RuneCountInString(s.String()))
	assert.Equal(t, s.Front+sectionSeparator+s.Middle+sectionSeparator+s.Back, s.String())
}

func TestSplit_LongMultibyte(t *testing.T) {
	n := NewSampleNormalizer(66)

	in := strings.Repeat("开", 50_000) + strings.Repeat("中", 50_000) + strings.Repeat("尾", 50_000)
	s := n.Split(in)
	assert.Equal(t, strings.Repeat("开", 20), s.Front)
	assert.Equal(t, strings.Repeat("中", 20), s.Middle)
	assert.Equal(t, strings.Repeat("尾", 20), s.Back)
}

func TestSnap(t *testing.T) {
	assert.Equal(t, "前面的句子很长很长。", snapEnd("前面的句子很长很长。后"))
	assert.Equal(t, "后面的内容很长很长", snapStart("前。后面的内容很长很长"))
	assert.Equal(t, "no breaks here", snapEnd("no breaks here"))
}

package emver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeSatisfies(t *testing.T) {
	cases := []struct {
		expr string
		in   []string
		out  []string
	}{
		{"*", []string{"0.0.0-0", "0.1.4", "9.9.9"}, nil},
		{"0.1.4", []string{"0.1.4"}, []string{"0.1.5", "0.1.4-1"}},
		{"=0.1.4", []string{"0.1.4"}, []string{"0.1.3"}},
		{"!=0.1.4", []string{"0.1.3", "0.1.4-0"}, []string{"0.1.4"}},
		{">=0.1.4", []string{"0.1.4", "0.2.0"}, []string{"0.1.4-3", "0.1.3"}},
		{">0.1.4", []string{"0.1.5-0"}, []string{"0.1.4"}},
		{"<0.2.0", []string{"0.1.9", "0.2.0-1"}, []string{"0.2.0"}},
		{"<=0.2.0", []string{"0.2.0"}, []string{"0.2.1"}},
		{"^0.1.2", []string{"0.1.2", "0.9.0"}, []string{"0.1.1", "1.0.0"}},
		{">=0.1.4 <0.2.0", []string{"0.1.4", "0.1.9"}, []string{"0.2.0", "0.1.3"}},
		{">=0.1.4 && <0.2.0", []string{"0.1.5"}, []string{"0.2.0"}},
		{"=0.1.0 || >=0.2.0", []string{"0.1.0", "0.3.0"}, []string{"0.1.5"}},
	}

	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			r, err := ParseRange(tc.expr)
			require.NoError(t, err)
			require.Equal(t, tc.expr, r.String())
			for _, s := range tc.in {
				require.True(t, MustParse(s).Satisfies(r), "%s should satisfy %s", s, tc.expr)
			}
			for _, s := range tc.out {
				require.False(t, MustParse(s).Satisfies(r), "%s should not satisfy %s", s, tc.expr)
			}
		})
	}
}

func TestRangeConstructors(t *testing.T) {
	v := MustParse("0.1.4")
	require.True(t, v.Satisfies(Any()))
	require.True(t, v.Satisfies(Exactly(v)))
	require.False(t, MustParse("0.1.5").Satisfies(Exactly(v)))
	require.True(t, MustParse("0.1.5").Satisfies(AtLeast(v)))
	require.False(t, v.Satisfies(Range{}), "zero range matches nothing")
}

func TestParseRangeErrors(t *testing.T) {
	for _, in := range []string{"", "   ", ">=", ">=0.1", "0.1.4 ||", "~0.1.4", ">= 0.1.4"} {
		_, err := ParseRange(in)
		require.Error(t, err, "input %q", in)
	}
}

package ethaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	// Reference vectors from EIP-55.
	cases := map[string]string{
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359": "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xDBF03B407C01E7CD3CBEA99509D93F8DDDC8C6FB": "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	}
	for in, want := range cases {
		got, err := Checksum(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestChecksumRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "0x1234", "0xzz6916095ca1df60bb79ce92ce3ea74c37c5d359"} {
		_, err := Checksum(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParse(t *testing.T) {
	a, err := Parse("0x82af49447d8a07e3bd95bd0d56f35241523fbab1")
	require.NoError(t, err)
	assert.Equal(t, "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", a.Hex())
}

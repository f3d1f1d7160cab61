package bridge

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

func TestDigestVectors(t *testing.T) {
	tests := []struct {
		algorithm string
		input     string
		want      string
	}{
		{
			algorithm: "sha256",
			input:     "abc",
			want:      "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
		{
			algorithm: "sha256",
			input:     "",
			want:      "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			algorithm: "keccak256",
			input:     "",
			want:      "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		},
		{
			algorithm: "blake2b256",
			input:     "abc",
			want:      "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319",
		},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm+"/"+tt.input, func(t *testing.T) {
			sum, err := digest(tt.algorithm, []byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(sum))
		})
	}
}

func TestDigestLengths(t *testing.T) {
	for algorithm, n := range map[string]int{
		"sha256":     32,
		"keccak256":  32,
		"blake2b128": 16,
		"blake2b256": 32,
	} {
		sum, err := digest(algorithm, []byte("data"))
		require.NoError(t, err)
		assert.Len(t, sum, n, algorithm)
	}
}

func TestDigestUnknownAlgorithm(t *testing.T) {
	_, err := digest("md5", []byte("data"))
	assert.Error(t, err)
}

func TestScriptHash(t *testing.T) {
	ts := newTestSetup(t)
	res := ts.eval(t, "", `scriptOutput = Sidevm.hash("sha256", "abc");`)

	require.Equal(t, sandbox.OutcomeCompleted, res.Outcome, "err: %v", res.Err)
	sum, ok := res.Value.([]byte)
	require.True(t, ok, "expected byte result, got %T", res.Value)
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		hex.EncodeToString(sum),
	)
}

func TestScriptHashUnknownAlgorithmThrows(t *testing.T) {
	ts := newTestSetup(t)
	res := ts.eval(t, "", `
		try {
			Sidevm.hash("md5", "abc");
			scriptOutput = "no throw";
		} catch (e) {
			scriptOutput = e.code;
		}
	`)

	require.Equal(t, sandbox.OutcomeCompleted, res.Outcome)
	assert.Equal(t, CodeValidation, res.Value)
}

func TestScriptHashAsync(t *testing.T) {
	ts := newTestSetup(t)
	res := ts.eval(t, "", `
		const order = ["call"];
		Sidevm.hashAsync("sha256", "abc").then(buf => {
			order.push("settled");
			scriptOutput = [order.join(","), Array.from(new Uint8Array(buf))[0]];
		});
		order.push("after call");
	`)

	require.Equal(t, sandbox.OutcomeCompleted, res.Outcome, "err: %v", res.Err)
	got, ok := res.Value.([]interface{})
	require.True(t, ok)
	// Settlement happens strictly after the creating turn.
	assert.Equal(t, "call,after call,settled", got[0])
	assert.Equal(t, int64(0xba), got[1])
}

func TestScriptHashAsyncRejection(t *testing.T) {
	ts := newTestSetup(t)
	res := ts.eval(t, "", `
		Sidevm.hashAsync("nope", "abc").then(
			() => { scriptOutput = "resolved"; },
			e => { scriptOutput = e.code; },
		);
	`)

	require.Equal(t, sandbox.OutcomeCompleted, res.Outcome)
	assert.Equal(t, CodeValidation, res.Value)
}

func TestScriptHashTypedArrayInput(t *testing.T) {
	ts := newTestSetup(t)
	res := ts.eval(t, "", `
		const viaString = Sidevm.hash("sha256", "abc");
		const viaBytes = Sidevm.hash("sha256", new Uint8Array([97, 98, 99]));
		const a = new Uint8Array(viaString);
		const b = new Uint8Array(viaBytes);
		scriptOutput = a.length === b.length && a.every((x, i) => x === b[i]);
	`)

	require.Equal(t, sandbox.OutcomeCompleted, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, true, res.Value)
}

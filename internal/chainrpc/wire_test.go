package chainrpc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evetabi/qpredict/internal/chainrpc"
	"github.com/evetabi/qpredict/internal/domain"
)

func TestPackDate_RoundTripsToSecondPrecision(t *testing.T) {
	in := time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
	packed, err := chainrpc.PackDate(in)
	require.NoError(t, err)

	out := chainrpc.UnpackDate(packed)
	require.True(t, in.Equal(out), "want %s, got %s", in, out)
}

func TestPackDate_RejectsYearOutOfRange(t *testing.T) {
	_, err := chainrpc.PackDate(time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, domain.ErrDateOutOfRange)

	_, err = chainrpc.PackDate(time.Date(2088, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, domain.ErrDateOutOfRange)
}

func TestPackDate_BoundaryYearsRoundTrip(t *testing.T) {
	for _, y := range []int{2024, 2087} {
		in := time.Date(y, time.June, 15, 12, 0, 0, 0, time.UTC)
		packed, err := chainrpc.PackDate(in)
		require.NoError(t, err)
		out := chainrpc.UnpackDate(packed)
		require.True(t, in.Equal(out))
	}
}

func TestIssueBetProcedure_MarshalsToFixedWidth(t *testing.T) {
	oracleID := chainrpc.EncodeIdentity([32]byte{1, 2, 3})
	closeAt := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	endAt := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

	p, err := chainrpc.NewIssueBetProcedure(
		"is btc above 90000", []string{"yes", "no"}, []string{oracleID, oracleID},
		[]uint32{50, 50}, closeAt, endAt, 10_000, 100)
	require.NoError(t, err)

	wire := p.Marshal()
	// 32 (description) + 8*32 (options) + 8*32 (oracles) + 8*4 (fees) +
	// 4 (close) + 4 (end) + 8 (amount per slot) + 4 (max slots) + 4 (option count)
	require.Len(t, wire, 32+8*32+8*32+8*4+4+4+8+4+4)
}

func TestIssueBetProcedure_RejectsOptionCountOutOfRange(t *testing.T) {
	_, err := chainrpc.NewIssueBetProcedure("q", nil, nil, nil, time.Now(), time.Now(), 1, 1)
	require.Error(t, err)

	nineOptions := make([]string, 9)
	for i := range nineOptions {
		nineOptions[i] = "opt"
	}
	_, err = chainrpc.NewIssueBetProcedure("q", nineOptions, nil, nil, time.Now(), time.Now(), 1, 1)
	require.Error(t, err)
}

func TestJoinBetProcedure_MarshalsTo12Bytes(t *testing.T) {
	p := chainrpc.JoinBetProcedure{BetID: 7, SlotCount: 2, Option: 1}
	require.Len(t, p.Marshal(), 12)
}

func TestPublishResultProcedure_MarshalsTo8Bytes(t *testing.T) {
	p := chainrpc.PublishResultProcedure{BetID: 7, WinningOption: 1}
	require.Len(t, p.Marshal(), 8)
}

func TestCancelBetProcedure_MarshalsTo4Bytes(t *testing.T) {
	p := chainrpc.CancelBetProcedure{BetID: 7}
	require.Len(t, p.Marshal(), 4)
}

func TestEncodeDecodeIdentity_RoundTrips(t *testing.T) {
	var pub [32]byte
	for i := range pub {
		pub[i] = byte(i * 7)
	}
	id := chainrpc.EncodeIdentity(pub)
	require.Len(t, id, chainrpc.IdentityLen)

	got, err := chainrpc.DecodeIdentity(id)
	require.NoError(t, err)
	require.Equal(t, pub, got)
}

func TestDecodeIdentity_RejectsWrongLength(t *testing.T) {
	_, err := chainrpc.DecodeIdentity("TOOSHORT")
	require.ErrorIs(t, err, domain.ErrInvalidSeedFormat)
}

func TestDeriveKeyPair_IsDeterministic(t *testing.T) {
	seed := stringsRepeat("q", 55)

	kp1, err := chainrpc.DeriveKeyPair(seed)
	require.NoError(t, err)
	kp2, err := chainrpc.DeriveKeyPair(seed)
	require.NoError(t, err)
	require.Equal(t, kp1.PublicKey, kp2.PublicKey)
	require.Equal(t, kp1.Identity(), kp2.Identity())
}

func TestDeriveKeyPair_RejectsBadSeedFormat(t *testing.T) {
	_, err := chainrpc.DeriveKeyPair("too-short")
	require.ErrorIs(t, err, domain.ErrInvalidSeedFormat)

	_, err = chainrpc.DeriveKeyPair(stringsRepeat("A", 55))
	require.ErrorIs(t, err, domain.ErrInvalidSeedFormat)
}

func TestSignVerify_RoundTrips(t *testing.T) {
	seed := stringsRepeat("a", 55)
	msg := []byte("transaction bytes")

	sig := chainrpc.Sign(seed, msg)
	require.True(t, chainrpc.Verify(seed, msg, sig))

	otherSeed := stringsRepeat("b", 55)
	require.False(t, chainrpc.Verify(otherSeed, msg, sig))

	require.False(t, chainrpc.Verify(seed, []byte("different bytes"), sig))
}

func TestGenerateSeed_ProducesValidLowercase55LetterSeeds(t *testing.T) {
	s1, err := chainrpc.GenerateSeed()
	require.NoError(t, err)
	s2, err := chainrpc.GenerateSeed()
	require.NoError(t, err)

	require.Len(t, s1, 55)
	require.NotEqual(t, s1, s2)
	for _, r := range s1 {
		require.True(t, r >= 'a' && r <= 'z')
	}

	_, err = chainrpc.DeriveKeyPair(s1)
	require.NoError(t, err)
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignerVerifyRoundTrip(t *testing.T) {
	signer := NewSigner("topsecret")

	sig := signer.Sign("intent-1", "pay-ref-1")
	assert.NotEmpty(t, sig)
	assert.True(t, signer.Verify("intent-1", "pay-ref-1", sig))
}

func TestSignerRejectsTamperedInput(t *testing.T) {
	signer := NewSigner("topsecret")
	sig := signer.Sign("intent-1", "pay-ref-1")

	assert.False(t, signer.Verify("intent-2", "pay-ref-1", sig))
	assert.False(t, signer.Verify("intent-1", "pay-ref-2", sig))
	assert.False(t, signer.Verify("intent-1", "pay-ref-1", sig+"00"))
	assert.False(t, signer.Verify("intent-1", "pay-ref-1", ""))
}

func TestSignerRejectsWrongSecret(t *testing.T) {
	sig := NewSigner("secret-a").Sign("intent-1", "pay-ref-1")
	assert.False(t, NewSigner("secret-b").Verify("intent-1", "pay-ref-1", sig))
}

func TestSignaturesAreDeterministicPerInput(t *testing.T) {
	signer := NewSigner("topsecret")
	assert.Equal(t, signer.Sign("i", "p"), signer.Sign("i", "p"))
	assert.NotEqual(t, signer.Sign("i", "p"), signer.Sign("i", "q"))
}
